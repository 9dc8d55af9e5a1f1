package publications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/geniolibre/publisher-backend/pkg/db/models"
	"github.com/geniolibre/publisher-backend/pkg/enums"
)

// Repository exposes publication persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a publication repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a publication with its attachments.
func (r *Repository) Create(ctx context.Context, publication *models.Publication) (*models.Publication, error) {
	if err := r.db.WithContext(ctx).Create(publication).Error; err != nil {
		return nil, err
	}
	return publication, nil
}

// FindByID loads a publication and its attachments ordered by position.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Publication, error) {
	var row models.Publication
	err := r.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&row, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateFieldsTx writes a field-scoped update inside an open transaction so
// concurrent sweeps touching other platform columns never clobber each other.
func (r *Repository) UpdateFieldsTx(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	return tx.Model(&models.Publication{}).Where("id = ?", id).Updates(fields).Error
}

// ListReconcilable returns publications the sweep must visit: anything still
// in flight plus scheduled publications whose publish time has passed.
func (r *Repository) ListReconcilable(ctx context.Context, now time.Time, limit int) ([]models.Publication, error) {
	var rows []models.Publication
	err := r.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("global_phase IN ?", []enums.Phase{enums.PhaseProcessing, enums.PhaseReviewing}).
		Or("global_phase = ? AND publish_at IS NOT NULL AND publish_at <= ?", enums.PhaseScheduled, now).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SetAttachmentStaged records the public URL an attachment was copied to.
func (r *Repository) SetAttachmentStaged(ctx context.Context, attachmentID uuid.UUID, stagedURL string) error {
	return r.db.WithContext(ctx).
		Model(&models.PublicationAttachment{}).
		Where("id = ?", attachmentID).
		Update("staged_url", stagedURL).Error
}

// Delete removes the publication; attachments cascade at the database level.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Publication{}, "id = ?", id).Error
}
