package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	celgo "github.com/google/cel-go/cel"

	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	"propstack/pkg/cel"
	"propstack/pkg/metrics"
)

type compiledRule struct {
	rule    FlagRule
	program celgo.Program
}

// FlagRuleService evaluates CEL flag rules against submissions. Rules are
// loaded from the repository, compiled once, and cached until the next
// reload; evaluation itself never touches the database.
type FlagRuleService struct {
	repo      FlagRuleRepository
	evaluator *cel.Evaluator
	cfg       config.FlagRulesConfig
	logger    logger.Logger

	mu    sync.RWMutex
	rules []compiledRule
}

func NewFlagRuleService(repo FlagRuleRepository, cfg config.FlagRulesConfig, log logger.Logger) (*FlagRuleService, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &FlagRuleService{
		repo:      repo,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log,
	}, nil
}

// Evaluate returns the names of the rules the submission matched. Any match
// forces manual review. An evaluation error on a single rule follows the
// configured fallback: "deny" treats the rule as matched, anything else
// skips it.
func (s *FlagRuleService) Evaluate(ctx context.Context, snapshot ListingSnapshot, score int) ([]string, error) {
	rules := s.activeRules()
	if len(rules) == 0 {
		return nil, nil
	}

	vars := snapshot.Vars(score)
	var matched []string

	for _, cr := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hit, err := s.evaluator.EvaluateRule(ctx, cr.program, vars)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Flag rule evaluation error",
				"rule_id", cr.rule.ID, "rule_name", cr.rule.Name, "error", err)
			if s.cfg.OnError == constants.FallbackDeny {
				metrics.FallbackUsageTotal.WithLabelValues("moderation", "flag_on_error", "evaluation_error").Inc()
				matched = append(matched, cr.rule.Name)
			}
			continue
		}

		if hit {
			metrics.FlagRuleMatchesTotal.WithLabelValues(cr.rule.ID, cr.rule.Name).Inc()
			s.logger.DebugwCtx(ctx, "Flag rule matched",
				"rule_id", cr.rule.ID, "rule_name", cr.rule.Name,
				"property_id", snapshot.PropertyID)
			matched = append(matched, cr.rule.Name)
		}
	}

	return matched, nil
}

// ValidateExpression is used by the HTTP layer before persisting a rule.
func (s *FlagRuleService) ValidateExpression(expression string) error {
	return s.evaluator.ValidateRuleExpression(expression)
}

func (s *FlagRuleService) activeRules() []compiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]compiledRule, len(s.rules))
	copy(rules, s.rules)
	return rules
}

// ReloadRules replaces the compiled cache with the enabled rules currently
// in the repository. Rules that fail to compile are dropped with a log so
// one bad expression cannot take evaluation down.
func (s *FlagRuleService) ReloadRules(ctx context.Context) error {
	rules, err := s.repo.GetActiveFlagRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flag rules: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		program, err := s.evaluator.CompileExpression(rule.Expression)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Skipping flag rule that failed to compile",
				"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
			continue
		}
		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}

	s.mu.Lock()
	s.rules = compiled
	s.mu.Unlock()

	metrics.SetFlagRulesActive(len(compiled))
	s.logger.InfowCtx(ctx, "Flag rules reloaded", "rules_count", len(compiled))
	return nil
}

// StartReloader refreshes the rule cache on an interval until ctx ends.
func (s *FlagRuleService) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.cfg.ReloadIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	if err := s.ReloadRules(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload flag rules", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload flag rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
