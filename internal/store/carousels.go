package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CarouselRepository reads and writes carousels and their images.
type CarouselRepository struct {
	db *gorm.DB
}

func NewCarouselRepository(db *gorm.DB) *CarouselRepository {
	return &CarouselRepository{db: db}
}

// Create inserts a carousel with its images in one transaction.
func (r *CarouselRepository) Create(ctx context.Context, carousel *Carousel, images []CarouselImage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if carousel.ID == uuid.Nil {
			carousel.ID = uuid.New()
		}
		if err := tx.Create(carousel).Error; err != nil {
			return err
		}
		for i := range images {
			if images[i].ID == uuid.Nil {
				images[i].ID = uuid.New()
			}
			images[i].CarouselID = carousel.ID
		}
		if len(images) == 0 {
			return nil
		}
		return tx.Create(&images).Error
	})
}

// List returns all carousels, most recent first.
func (r *CarouselRepository) List(ctx context.Context) ([]Carousel, error) {
	var carousels []Carousel
	err := r.db.WithContext(ctx).Order("posted_at DESC NULLS LAST").Find(&carousels).Error
	return carousels, err
}

// FindByID returns a carousel or nil when it does not exist.
func (r *CarouselRepository) FindByID(ctx context.Context, id uuid.UUID) (*Carousel, error) {
	var carousel Carousel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&carousel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &carousel, nil
}

// FindByPostID returns a carousel by its source post identifier, or nil.
func (r *CarouselRepository) FindByPostID(ctx context.Context, postID string) (*Carousel, error) {
	var carousel Carousel
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).First(&carousel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &carousel, nil
}

// ImageRepository reads and writes individual carousel images.
type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// FindByID returns an image or nil when it does not exist.
func (r *ImageRepository) FindByID(ctx context.Context, id uuid.UUID) (*CarouselImage, error) {
	var img CarouselImage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ByCarousel returns all images of a carousel in display order.
func (r *ImageRepository) ByCarousel(ctx context.Context, carouselID uuid.UUID) ([]CarouselImage, error) {
	var images []CarouselImage
	err := r.db.WithContext(ctx).
		Where("carousel_id = ?", carouselID).
		Order("image_order").
		Find(&images).Error
	return images, err
}

// FirstOfCarousel returns the cover image of a carousel, or nil.
func (r *ImageRepository) FirstOfCarousel(ctx context.Context, carouselID uuid.UUID) (*CarouselImage, error) {
	var img CarouselImage
	err := r.db.WithContext(ctx).
		Where("carousel_id = ?", carouselID).
		Order("image_order").
		First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Siblings returns all images of a carousel except one, in display order.
// These are the pose references a batch fans out over.
func (r *ImageRepository) Siblings(ctx context.Context, carouselID, excludeImageID uuid.UUID) ([]CarouselImage, error) {
	var images []CarouselImage
	err := r.db.WithContext(ctx).
		Where("carousel_id = ? AND id <> ?", carouselID, excludeImageID).
		Order("image_order").
		Find(&images).Error
	return images, err
}

// Unmirrored returns images that have not yet been copied into our storage.
func (r *ImageRepository) Unmirrored(ctx context.Context) ([]CarouselImage, error) {
	var images []CarouselImage
	err := r.db.WithContext(ctx).
		Where("mirrored_url = '' OR mirrored_url IS NULL").
		Order("carousel_id, image_order").
		Find(&images).Error
	return images, err
}

// SetMirrored records the storage URL and decoded dimensions of an image.
func (r *ImageRepository) SetMirrored(ctx context.Context, id uuid.UUID, mirroredURL string, width, height int) error {
	return r.db.WithContext(ctx).Model(&CarouselImage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"mirrored_url": mirroredURL,
			"width":        width,
			"height":       height,
		}).Error
}
