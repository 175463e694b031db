package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// TierRepository is the read-only registry mapping (document type, target
// state) to the required reviewer.
type TierRepository interface {
	Find(ctx context.Context, docType models.DocType, targetState string) (*models.TierDefinition, error)
}

type tierRepository struct {
	db *gorm.DB
}

// NewTierRepository creates a new tier definition repository.
func NewTierRepository(db *gorm.DB) TierRepository {
	return &tierRepository{db: db}
}

func (r *tierRepository) Find(ctx context.Context, docType models.DocType, targetState string) (*models.TierDefinition, error) {
	var tier models.TierDefinition
	err := r.db.WithContext(ctx).
		Where("doc_type = ? AND target_state = ? AND active = ?", docType, targetState, true).
		First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find tier definition")
	}
	return &tier, nil
}

// TierReviewRepository is the append-only audit trail of approval and
// rejection decisions. Rows are only ever created or decided, never
// removed.
type TierReviewRepository interface {
	Create(ctx context.Context, review *models.TierReview) error
	// FindPending returns the open review for one document and target
	// state, or ErrNotFound.
	FindPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string) (*models.TierReview, error)
	// HasPending reports whether an open review already exists for the
	// reviewer and target state. Used to keep task creation idempotent.
	HasPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string, reviewerID uuid.UUID) (bool, error)
	FindOpenByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error)
	// FindStalePending returns open reviews created before the cutoff,
	// oldest first. Feeds the reviewer reminder job.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.TierReview, error)
	ListByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error)
	MarkDecided(ctx context.Context, id uuid.UUID, status models.ReviewStatus, comment string) error
}

type tierReviewRepository struct {
	db *gorm.DB
}

// NewTierReviewRepository creates a new tier review repository.
func NewTierReviewRepository(db *gorm.DB) TierReviewRepository {
	return &tierReviewRepository{db: db}
}

func (r *tierReviewRepository) Create(ctx context.Context, review *models.TierReview) error {
	if err := r.db.WithContext(ctx).Create(review).Error; err != nil {
		return errors.Wrap(err, "failed to create tier review")
	}
	return nil
}

func (r *tierReviewRepository) FindPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string) (*models.TierReview, error) {
	var review models.TierReview
	err := r.db.WithContext(ctx).
		Where("doc_type = ? AND doc_id = ? AND target_state = ? AND status = ?",
			docType, docID, targetState, models.ReviewPending).
		Order("created_at").
		First(&review).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find pending tier review")
	}
	return &review, nil
}

func (r *tierReviewRepository) HasPending(ctx context.Context, docType models.DocType, docID uuid.UUID, targetState string, reviewerID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TierReview{}).
		Where("doc_type = ? AND doc_id = ? AND target_state = ? AND reviewer_id = ? AND status = ?",
			docType, docID, targetState, reviewerID, models.ReviewPending).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to count pending tier reviews")
	}
	return count > 0, nil
}

func (r *tierReviewRepository) FindOpenByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error) {
	var reviews []models.TierReview
	err := r.db.WithContext(ctx).
		Where("doc_type = ? AND doc_id = ? AND status = ?", docType, docID, models.ReviewPending).
		Find(&reviews).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find open tier reviews")
	}
	return reviews, nil
}

func (r *tierReviewRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.TierReview, error) {
	var reviews []models.TierReview
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.ReviewPending, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale pending reviews")
	}
	return reviews, nil
}

func (r *tierReviewRepository) ListByDoc(ctx context.Context, docType models.DocType, docID uuid.UUID) ([]models.TierReview, error) {
	var reviews []models.TierReview
	err := r.db.WithContext(ctx).
		Where("doc_type = ? AND doc_id = ?", docType, docID).
		Order("created_at").
		Find(&reviews).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tier reviews")
	}
	return reviews, nil
}

func (r *tierReviewRepository) MarkDecided(ctx context.Context, id uuid.UUID, status models.ReviewStatus, comment string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.TierReview{}).
		Where("id = ? AND status = ?", id, models.ReviewPending).
		Updates(map[string]interface{}{
			"status":     status,
			"comment":    comment,
			"decided_at": &now,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to decide tier review")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
