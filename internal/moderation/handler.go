package moderation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"propstack/internal/logger"
	"propstack/pkg/errors"
)

type Handler struct {
	service   *Service
	flagRules *FlagRuleService
	logger    logger.Logger
}

func NewHandler(service *Service, flagRules *FlagRuleService, log logger.Logger) *Handler {
	return &Handler{
		service:   service,
		flagRules: flagRules,
		logger:    log,
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err, "path", c.Request.URL.Path)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		tasks := v1.Group("/moderation/tasks")
		{
			tasks.GET("", h.ListTasks)
			tasks.GET("/:id", h.GetTask)
			tasks.POST("/:id/claim", h.ClaimTask)
			tasks.POST("/:id/release", h.ReleaseTask)
			tasks.POST("/:id/decision", h.DecideTask)
		}

		rules := v1.Group("/moderation/rules")
		{
			rules.GET("", h.ListFlagRules)
			rules.POST("", h.CreateFlagRule)
			rules.GET("/:id", h.GetFlagRule)
			rules.PUT("/:id", h.UpdateFlagRule)
			rules.DELETE("/:id", h.DeleteFlagRule)
		}
	}
}

type claimRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
}

type decisionRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Decision   string `json:"decision" binding:"required"`
	Notes      string `json:"notes"`
}

type taskListResponse struct {
	Tasks  []ModerationTask `json:"tasks"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ListTasks godoc
// @Summary      List moderation tasks
// @Description  List tasks ordered by priority (descending) then age (oldest first)
// @Tags         moderation-tasks
// @Produce      json
// @Param        status    query     string  false  "Filter by status"
// @Param        task_type query     string  false  "Filter by task type"
// @Param        priority  query     string  false  "Filter by priority"
// @Param        limit     query     int     false  "Page size"
// @Param        offset    query     int     false  "Page offset"
// @Success      200  {object}  taskListResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /moderation/tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	filter := ListFilter{
		Status:   TaskStatus(c.Query("status")),
		TaskType: c.Query("task_type"),
		Priority: Priority(c.Query("priority")),
		Limit:    limit,
		Offset:   offset,
	}

	tasks, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if tasks == nil {
		tasks = []ModerationTask{}
	}

	c.JSON(http.StatusOK, taskListResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetTask godoc
// @Summary      Get a moderation task
// @Tags         moderation-tasks
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  ModerationTask
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /moderation/tasks/{id} [get]
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ClaimTask godoc
// @Summary      Claim a pending task
// @Description  Exclusively assigns the task to the reviewer; claiming a task that is not PENDING fails with 409
// @Tags         moderation-tasks
// @Accept       json
// @Produce      json
// @Param        id    path      string        true  "Task ID"
// @Param        body  body      claimRequest  true  "Reviewer"
// @Success      200   {object}  ModerationTask
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /moderation/tasks/{id}/claim [post]
func (h *Handler) ClaimTask(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	task, err := h.service.Claim(c.Request.Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ReleaseTask godoc
// @Summary      Release a claimed task
// @Description  Returns the task to PENDING; only the claim holder may release
// @Tags         moderation-tasks
// @Accept       json
// @Produce      json
// @Param        id    path      string        true  "Task ID"
// @Param        body  body      claimRequest  true  "Reviewer"
// @Success      200   {object}  ModerationTask
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /moderation/tasks/{id}/release [post]
func (h *Handler) ReleaseTask(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	task, err := h.service.Release(c.Request.Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DecideTask godoc
// @Summary      Decide a claimed task
// @Description  Completes the task with APPROVE, REJECT or REQUEST_CHANGES; only the claim holder may decide
// @Tags         moderation-tasks
// @Accept       json
// @Produce      json
// @Param        id    path      string           true  "Task ID"
// @Param        body  body      decisionRequest  true  "Decision"
// @Success      200   {object}  ModerationTask
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /moderation/tasks/{id}/decision [post]
func (h *Handler) DecideTask(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	task, err := h.service.Decide(c.Request.Context(), c.Param("id"), req.ReviewerID, req.Decision, req.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type flagRuleRequest struct {
	Name       string `json:"name" binding:"required"`
	Expression string `json:"expression" binding:"required"`
	Priority   int    `json:"priority"`
	Enabled    *bool  `json:"enabled"`
}

// ListFlagRules godoc
// @Summary      List flag rules
// @Tags         flag-rules
// @Produce      json
// @Success      200  {array}   FlagRule
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /moderation/rules [get]
func (h *Handler) ListFlagRules(c *gin.Context) {
	rules, err := h.service.repo.ListFlagRules(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	if rules == nil {
		rules = []FlagRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// CreateFlagRule godoc
// @Summary      Create a flag rule
// @Description  The expression is validated as CEL returning bool before the rule is stored
// @Tags         flag-rules
// @Accept       json
// @Produce      json
// @Param        rule  body      flagRuleRequest  true  "Flag rule"
// @Success      201   {object}  FlagRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /moderation/rules [post]
func (h *Handler) CreateFlagRule(c *gin.Context) {
	var req flagRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.flagRules.ValidateExpression(req.Expression); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())))
		return
	}

	rule := &FlagRule{
		Name:       req.Name,
		Expression: req.Expression,
		Priority:   req.Priority,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	if err := h.service.repo.CreateFlagRule(c.Request.Context(), rule); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetFlagRule godoc
// @Summary      Get a flag rule
// @Tags         flag-rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  FlagRule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /moderation/rules/{id} [get]
func (h *Handler) GetFlagRule(c *gin.Context) {
	rule, err := h.service.repo.GetFlagRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateFlagRule godoc
// @Summary      Update a flag rule
// @Tags         flag-rules
// @Accept       json
// @Produce      json
// @Param        id    path      string           true  "Rule ID"
// @Param        rule  body      flagRuleRequest  true  "Flag rule"
// @Success      200   {object}  FlagRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /moderation/rules/{id} [put]
func (h *Handler) UpdateFlagRule(c *gin.Context) {
	var req flagRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.flagRules.ValidateExpression(req.Expression); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())))
		return
	}

	rule := &FlagRule{
		ID:         c.Param("id"),
		Name:       req.Name,
		Expression: req.Expression,
		Priority:   req.Priority,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	if err := h.service.repo.UpdateFlagRule(c.Request.Context(), rule); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteFlagRule godoc
// @Summary      Delete a flag rule
// @Tags         flag-rules
// @Param        id  path  string  true  "Rule ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /moderation/rules/{id} [delete]
func (h *Handler) DeleteFlagRule(c *gin.Context) {
	if err := h.service.repo.DeleteFlagRule(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
