package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EditTestRepository manages the edit test lifecycle.
type EditTestRepository struct {
	db *gorm.DB
}

func NewEditTestRepository(db *gorm.DB) *EditTestRepository {
	return &EditTestRepository{db: db}
}

// Create inserts a new edit test. The ID is assigned here when unset.
func (r *EditTestRepository) Create(ctx context.Context, test *EditTest) error {
	if test.ID == uuid.Nil {
		test.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(test).Error
}

// FindByID returns an edit test or nil when it does not exist.
func (r *EditTestRepository) FindByID(ctx context.Context, id uuid.UUID) (*EditTest, error) {
	var test EditTest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&test).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// MarkCompleted records a successful edit result.
func (r *EditTestRepository) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&EditTest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"result_url":   resultURL,
			"status":       EditStatusCompleted,
			"completed_at": &now,
		}).Error
}

// MarkRejected records a rejection (operator verdict or a failed edit call).
func (r *EditTestRepository) MarkRejected(ctx context.Context, id uuid.UUID, notes string) error {
	return r.db.WithContext(ctx).Model(&EditTest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": EditStatusRejected,
			"notes":  notes,
		}).Error
}

// MarkApproved records the operator's approval. Approval is terminal for
// everything but notes.
func (r *EditTestRepository) MarkApproved(ctx context.Context, id uuid.UUID, notes string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&EditTest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      EditStatusApproved,
			"approved_at": &now,
			"notes":       notes,
		}).Error
}
