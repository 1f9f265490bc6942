package moderation

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskClaimed   TaskStatus = "CLAIMED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskCancelled TaskStatus = "CANCELLED"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type Decision string

const (
	DecisionApprove        Decision = "APPROVE"
	DecisionReject         Decision = "REJECT"
	DecisionRequestChanges Decision = "REQUEST_CHANGES"
)

func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return Decision(s), true
	}
	return "", false
}

// ModerationTask is one unit of manual review work. Status moves
// PENDING -> CLAIMED -> COMPLETED, with CLAIMED -> PENDING on release and
// PENDING -> CANCELLED when the entity leaves review before a claim.
type ModerationTask struct {
	ID         string     `json:"id" db:"id"`
	EntityType string     `json:"entity_type" db:"entity_type"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	TaskType   string     `json:"task_type" db:"task_type"`
	Status     TaskStatus `json:"status" db:"status"`
	Priority   Priority   `json:"priority" db:"priority"`
	AutoScore  *int       `json:"auto_score,omitempty" db:"auto_score"`
	Flags      []string   `json:"flags,omitempty"`
	ClaimedBy  string     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	Decision   Decision   `json:"decision,omitempty" db:"decision"`
	DecidedBy  string     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt  *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	Notes      string     `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	EntityTypeProperty = "PROPERTY"
	TaskTypeReview     = "LISTING_REVIEW"
)

type BlacklistType string

const (
	BlacklistPhone BlacklistType = "PHONE"
	BlacklistWord  BlacklistType = "WORD"
)

// BlacklistEntry lives in an externally managed collection; this service
// only reads it.
type BlacklistEntry struct {
	ID        string        `bson:"_id,omitempty" json:"id"`
	Type      BlacklistType `bson:"type" json:"type"`
	Value     string        `bson:"value" json:"value"`
	Reason    string        `bson:"reason,omitempty" json:"reason,omitempty"`
	ExpiresAt *time.Time    `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}

type Violation struct {
	Type  BlacklistType `json:"type"`
	Value string        `json:"value"`
}

// ListingSnapshot is the scorer's view of a property, decoded from the
// property.submitted payload. The scorer never reads the property store.
type ListingSnapshot struct {
	PropertyID   string
	OwnerUserID  string
	Title        string
	Description  string
	Price        float64
	City         string
	Locality     string
	Attributes   map[string]interface{}
	ImageCount   int
	HasPrimary   bool
	HasGeo       bool
	ContactPhone string
}

// FlagRule is a CEL expression that forces manual review when it matches a
// submission, regardless of the auto score.
type FlagRule struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Expression string    `json:"expression" db:"expression"`
	Priority   int       `json:"priority" db:"priority"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ListFilter narrows and pages the task listing. Zero values mean no filter.
type ListFilter struct {
	Status   TaskStatus
	TaskType string
	Priority Priority
	Limit    int
	Offset   int
}
