package property

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "propstack/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, p *Property) error
	GetByID(ctx context.Context, id string) (*Property, error)
	Update(ctx context.Context, p *Property, expectedVersion int) error
	SetPremiumForOwner(ctx context.Context, ownerUserID string, premium Premium) (int64, error)
	ClearPremiumBySubscription(ctx context.Context, subscriptionID string) (int64, error)
	ListExpiredPublished(ctx context.Context, asOf time.Time, limit int) ([]Property, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const propertyColumns = `
	id, status, version, owner_user_id, owner_org_id,
	title, description, price, city, locality, attributes, images,
	latitude, longitude, contact_phone,
	auto_score, manual_review_required, reviewer_id, rejection_reason,
	premium_tier, premium_subscription_id, premium_activated_at,
	published_at, expires_at, sold_at, rented_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, p *Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.Premium.Tier == "" {
		p.Premium.Tier = TierNone
	}
	p.Version = 1
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	query := `
		INSERT INTO properties (` + propertyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Status, p.Version, p.Owner.UserID, nullString(p.Owner.OrgID),
		p.Title, p.Description, p.Price, p.City, p.Locality, attrs, images,
		p.Latitude, p.Longitude, nullString(p.ContactPhone),
		p.Moderation.AutoScore, p.Moderation.ManualReviewRequired,
		nullString(p.Moderation.ReviewerID), nullString(p.Moderation.RejectionReason),
		p.Premium.Tier, nullString(p.Premium.SubscriptionID), p.Premium.ActivatedAt,
		p.PublishedAt, p.ExpiresAt, p.SoldAt, p.RentedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message",
				fmt.Sprintf("property %s already exists", p.ID))
		}
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`

	p, err := scanProperty(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("property %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return p, nil
}

// Update persists the full mutable state of the property guarded by the
// version the caller read. A lost race surfaces as CONFLICT so the caller
// can reload and retry the transition.
func (r *PostgresRepository) Update(ctx context.Context, p *Property, expectedVersion int) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now()

	query := `
		UPDATE properties
		SET status = $1, version = $2,
		    title = $3, description = $4, price = $5, city = $6, locality = $7,
		    attributes = $8, images = $9, latitude = $10, longitude = $11, contact_phone = $12,
		    auto_score = $13, manual_review_required = $14, reviewer_id = $15, rejection_reason = $16,
		    premium_tier = $17, premium_subscription_id = $18, premium_activated_at = $19,
		    published_at = $20, expires_at = $21, sold_at = $22, rented_at = $23, updated_at = $24
		WHERE id = $25 AND version = $26
	`

	res, err := r.db.ExecContext(ctx, query,
		p.Status, p.Version,
		p.Title, p.Description, p.Price, p.City, p.Locality,
		attrs, images, p.Latitude, p.Longitude, nullString(p.ContactPhone),
		p.Moderation.AutoScore, p.Moderation.ManualReviewRequired,
		nullString(p.Moderation.ReviewerID), nullString(p.Moderation.RejectionReason),
		p.Premium.Tier, nullString(p.Premium.SubscriptionID), p.Premium.ActivatedAt,
		p.PublishedAt, p.ExpiresAt, p.SoldAt, p.RentedAt, p.UpdatedAt,
		p.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update property: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		p.Version = expectedVersion
		return pkgerrors.ErrConflict.WithDetail("message",
			fmt.Sprintf("property %s was modified concurrently", p.ID))
	}
	return nil
}

// SetPremiumForOwner applies the tier to every PUBLISHED property of the
// owner. The WHERE clause makes re-application of the same premium a no-op,
// which keeps the reconciler safe under event redelivery.
func (r *PostgresRepository) SetPremiumForOwner(ctx context.Context, ownerUserID string, premium Premium) (int64, error) {
	query := `
		UPDATE properties
		SET premium_tier = $1, premium_subscription_id = $2, premium_activated_at = $3,
		    version = version + 1, updated_at = $4
		WHERE owner_user_id = $5 AND status = 'PUBLISHED'
		  AND (premium_tier IS DISTINCT FROM $1 OR premium_subscription_id IS DISTINCT FROM $2)
	`

	res, err := r.db.ExecContext(ctx, query,
		premium.Tier, nullString(premium.SubscriptionID), premium.ActivatedAt,
		time.Now(), ownerUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to set premium for owner %s: %w", ownerUserID, err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ClearPremiumBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	query := `
		UPDATE properties
		SET premium_tier = 'NONE', premium_subscription_id = NULL, premium_activated_at = NULL,
		    version = version + 1, updated_at = $1
		WHERE premium_subscription_id = $2 AND status = 'PUBLISHED'
	`

	res, err := r.db.ExecContext(ctx, query, time.Now(), subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear premium for subscription %s: %w", subscriptionID, err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ListExpiredPublished(ctx context.Context, asOf time.Time, limit int) ([]Property, error) {
	query := `
		SELECT ` + propertyColumns + `
		FROM properties
		WHERE status = 'PUBLISHED' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired properties: %w", err)
	}
	defer rows.Close()

	var properties []Property
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, *p)
	}
	return properties, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProperty(row rowScanner) (*Property, error) {
	var (
		p          Property
		ownerOrg   sql.NullString
		phone      sql.NullString
		reviewer   sql.NullString
		rejection  sql.NullString
		subID      sql.NullString
		attrsJSON  []byte
		imagesJSON []byte
	)

	err := row.Scan(
		&p.ID, &p.Status, &p.Version, &p.Owner.UserID, &ownerOrg,
		&p.Title, &p.Description, &p.Price, &p.City, &p.Locality, &attrsJSON, &imagesJSON,
		&p.Latitude, &p.Longitude, &phone,
		&p.Moderation.AutoScore, &p.Moderation.ManualReviewRequired, &reviewer, &rejection,
		&p.Premium.Tier, &subID, &p.Premium.ActivatedAt,
		&p.PublishedAt, &p.ExpiresAt, &p.SoldAt, &p.RentedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Owner.OrgID = ownerOrg.String
	p.ContactPhone = phone.String
	p.Moderation.ReviewerID = reviewer.String
	p.Moderation.RejectionReason = rejection.String
	p.Premium.SubscriptionID = subID.String

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &p.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
