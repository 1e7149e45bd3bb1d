// Package store persists the carousel editing workflow: scraped carousels
// and their images, single-image edit tests, and the pose-transfer batches
// spawned when an edit is approved. Backed by Postgres through GORM, with
// JSONB columns for the batch item snapshots and scrape payloads.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Edit test lifecycle. An edit test is immutable once approved except for
// its notes.
const (
	EditStatusPending    = "pending"
	EditStatusProcessing = "processing"
	EditStatusCompleted  = "completed"
	EditStatusApproved   = "approved"
	EditStatusRejected   = "rejected"
)

// Batch lifecycle. The state machine is monotone: queued → processing →
// completed|failed. A batch is completed when orchestration finished with
// at least one output, even if some items produced none.
const (
	BatchStatusQueued     = "queued"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// Carousel is one scraped multi-image post.
type Carousel struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	PostID        string         `json:"post_id" gorm:"uniqueIndex;not null"`
	Username      string         `json:"username" gorm:"not null;index"`
	Caption       string         `json:"caption" gorm:"type:text"`
	LikesCount    int            `json:"likes_count"`
	CommentsCount int            `json:"comments_count"`
	PostedAt      *time.Time     `json:"posted_at" gorm:"index:idx_carousels_posted_at,sort:desc"`
	ScrapedAt     time.Time      `json:"scraped_at" gorm:"autoCreateTime"`
	ImageCount    int            `json:"image_count"`
	RawData       datatypes.JSON `json:"raw_data,omitempty" gorm:"type:jsonb"`
}

// CarouselImage is one image of a carousel, in display order.
// MirroredURL is set once the CDN image has been copied into our own
// storage; processing always prefers it over the scraped URL.
type CarouselImage struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CarouselID  uuid.UUID `json:"carousel_id" gorm:"type:uuid;not null;index"`
	ImageURL    string    `json:"image_url" gorm:"not null"`
	ImageOrder  int       `json:"image_order" gorm:"not null"`
	MirroredURL string    `json:"mirrored_url"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`

	Carousel *Carousel `json:"-" gorm:"foreignKey:CarouselID;constraint:OnDelete:CASCADE"`
}

// SourceURL returns the URL processing should read the image from.
func (img *CarouselImage) SourceURL() string {
	if img.MirroredURL != "" {
		return img.MirroredURL
	}
	return img.ImageURL
}

// EditTest records one AI edit of one carousel image: the instruction, the
// produced image, and the operator's verdict.
type EditTest struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	CarouselID  uuid.UUID  `json:"carousel_id" gorm:"type:uuid;not null;index"`
	ImageID     uuid.UUID  `json:"image_id" gorm:"type:uuid;not null"`
	EditPrompt  string     `json:"edit_prompt" gorm:"type:text;not null"`
	ResultURL   string     `json:"result_url"`
	Status      string     `json:"status" gorm:"not null;default:pending;index"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	CompletedAt *time.Time `json:"completed_at"`
	ApprovedAt  *time.Time `json:"approved_at"`
	Notes       string     `json:"notes" gorm:"type:text"`

	Carousel *Carousel      `json:"-" gorm:"foreignKey:CarouselID;constraint:OnDelete:CASCADE"`
	Image    *CarouselImage `json:"-" gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// BatchItem is the snapshot of one sibling image taken when a batch starts.
// Later edits to the carousel do not affect an in-flight batch.
type BatchItem struct {
	ID    uuid.UUID `json:"id"`
	URL   string    `json:"url"`
	Order int       `json:"order"`
}

// PoseBatch is one fan-out execution spawned by approving an edit test.
type PoseBatch struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	EditTestID      uuid.UUID      `json:"edit_test_id" gorm:"type:uuid;not null;index"`
	CarouselID      uuid.UUID      `json:"carousel_id" gorm:"type:uuid;not null;index"`
	Status          string         `json:"status" gorm:"not null;default:queued;index"`
	ImagesToProcess datatypes.JSON `json:"images_to_process" gorm:"type:jsonb"`
	CompletedImages datatypes.JSON `json:"completed_images" gorm:"type:jsonb"`
	WorkflowName    string         `json:"workflow_name"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	ErrorMessage    string         `json:"error_message" gorm:"type:text"`

	EditTest *EditTest `json:"-" gorm:"foreignKey:EditTestID;constraint:OnDelete:CASCADE"`
	Carousel *Carousel `json:"-" gorm:"foreignKey:CarouselID;constraint:OnDelete:CASCADE"`
}

// AutoMigrate creates or updates the schema for all entities.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Carousel{},
		&CarouselImage{},
		&EditTest{},
		&PoseBatch{},
	)
}
