package property

import "time"

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusPublished   Status = "PUBLISHED"
	StatusRejected    Status = "REJECTED"
	StatusExpired     Status = "EXPIRED"
	StatusArchived    Status = "ARCHIVED"
)

var allStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusPublished,
	StatusRejected,
	StatusExpired,
	StatusArchived,
}

type PremiumTier string

const (
	TierNone      PremiumTier = "NONE"
	TierFeatured  PremiumTier = "FEATURED"
	TierPremium   PremiumTier = "PREMIUM"
	TierSpotlight PremiumTier = "SPOTLIGHT"
)

func ParsePremiumTier(s string) (PremiumTier, bool) {
	switch PremiumTier(s) {
	case TierNone, TierFeatured, TierPremium, TierSpotlight:
		return PremiumTier(s), true
	}
	return "", false
}

type Owner struct {
	UserID string `json:"user_id" db:"owner_user_id"`
	OrgID  string `json:"org_id,omitempty" db:"owner_org_id"`
}

type Moderation struct {
	AutoScore            *int   `json:"auto_score,omitempty" db:"auto_score"`
	ManualReviewRequired bool   `json:"manual_review_required" db:"manual_review_required"`
	ReviewerID           string `json:"reviewer_id,omitempty" db:"reviewer_id"`
	RejectionReason      string `json:"rejection_reason,omitempty" db:"rejection_reason"`
}

type Premium struct {
	Tier           PremiumTier `json:"tier" db:"premium_tier"`
	SubscriptionID string      `json:"subscription_id,omitempty" db:"premium_subscription_id"`
	ActivatedAt    *time.Time  `json:"activated_at,omitempty" db:"premium_activated_at"`
}

type Image struct {
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

// Property is the subset of the listing the coordination core owns. Status
// only ever changes through the state machine; Version increments on every
// mutation and backs the optimistic guard in the repository.
type Property struct {
	ID          string     `json:"id" db:"id"`
	Status      Status     `json:"status" db:"status"`
	Owner       Owner      `json:"owner"`
	Moderation  Moderation `json:"moderation"`
	Premium     Premium    `json:"premium"`
	Version     int        `json:"version" db:"version"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	SoldAt      *time.Time `json:"sold_at,omitempty" db:"sold_at"`
	RentedAt    *time.Time `json:"rented_at,omitempty" db:"rented_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	// Listing content, carried in lifecycle event payloads so downstream
	// consumers (moderation) can score a consistent snapshot.
	Title        string                 `json:"title" db:"title"`
	Description  string                 `json:"description" db:"description"`
	Price        float64                `json:"price" db:"price"`
	City         string                 `json:"city" db:"city"`
	Locality     string                 `json:"locality" db:"locality"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Images       []Image                `json:"images,omitempty"`
	Latitude     *float64               `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64               `json:"longitude,omitempty" db:"longitude"`
	ContactPhone string                 `json:"contact_phone,omitempty" db:"contact_phone"`
}

// Actor identifies who requested a transition. System is set for
// moderation-pipeline operations, which skip the ownership check.
type Actor struct {
	UserID string
	OrgID  string
	System bool
}

var SystemActor = Actor{System: true}

func (p *Property) OwnedBy(actor Actor) bool {
	if p.Owner.UserID != actor.UserID {
		return false
	}
	if p.Owner.OrgID != "" && actor.OrgID != "" && p.Owner.OrgID != actor.OrgID {
		return false
	}
	return true
}

// Snapshot flattens the listing content into an event payload.
func (p *Property) Snapshot() map[string]interface{} {
	images := make([]interface{}, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, map[string]interface{}{
			"url":        img.URL,
			"is_primary": img.IsPrimary,
		})
	}

	snapshot := map[string]interface{}{
		"property_id":   p.ID,
		"status":        string(p.Status),
		"owner_user_id": p.Owner.UserID,
		"title":         p.Title,
		"description":   p.Description,
		"price":         p.Price,
		"city":          p.City,
		"locality":      p.Locality,
		"attributes":    p.Attributes,
		"images":        images,
		"contact_phone": p.ContactPhone,
		"version":       p.Version,
	}
	if p.Owner.OrgID != "" {
		snapshot["owner_org_id"] = p.Owner.OrgID
	}
	if p.Latitude != nil && p.Longitude != nil {
		snapshot["latitude"] = *p.Latitude
		snapshot["longitude"] = *p.Longitude
	}
	return snapshot
}
