package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchRepository manages pose-transfer batch records.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch record. The ID is assigned here when unset.
func (r *BatchRepository) Create(ctx context.Context, batch *PoseBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

// Update persists the batch's current state (full-record save).
func (r *BatchRepository) Update(ctx context.Context, batch *PoseBatch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

// FindByID returns a batch or nil when it does not exist.
func (r *BatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*PoseBatch, error) {
	var batch PoseBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns all batches, most recent first.
func (r *BatchRepository) List(ctx context.Context) ([]PoseBatch, error) {
	var batches []PoseBatch
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&batches).Error
	return batches, err
}

// ListByStatus returns batches in the given state, most recent first.
func (r *BatchRepository) ListByStatus(ctx context.Context, status string) ([]PoseBatch, error) {
	var batches []PoseBatch
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&batches).Error
	return batches, err
}

// ForceComplete marks a batch completed regardless of its current state.
// Operational tool for batches orphaned mid-flight by a crash; the missing
// terminal write is a known failure mode of the pipeline.
func (r *BatchRepository) ForceComplete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&PoseBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       BatchStatusCompleted,
			"completed_at": &now,
		}).Error
}
