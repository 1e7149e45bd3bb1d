// Package importer turns scraped posts into carousel records and mirrors
// their CDN images into our own storage. Scraped CDN URLs expire, so
// everything downstream of import works against mirrored copies.
package importer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/imaging"
	"github.com/avasquez/carousel-studio/internal/scrape"
	"github.com/avasquez/carousel-studio/internal/storage"
	"github.com/avasquez/carousel-studio/internal/store"
)

// Importer writes scraped posts into the store and mirrors images.
type Importer struct {
	carousels  *store.CarouselRepository
	images     *store.ImageRepository
	bucket     *storage.Bucket
	httpClient *http.Client
}

func New(carousels *store.CarouselRepository, images *store.ImageRepository, bucket *storage.Bucket) *Importer {
	return &Importer{
		carousels:  carousels,
		images:     images,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Imported int
	Skipped  int
}

// ImportPosts stores the multi-image posts from a scrape run. Posts already
// in the store are skipped, so re-running an import after a fresh scrape
// only adds what is new.
func (im *Importer) ImportPosts(ctx context.Context, posts []scrape.Post) (*ImportStats, error) {
	stats := &ImportStats{}

	for _, post := range posts {
		if !post.IsCarousel() {
			continue
		}

		existing, err := im.carousels.FindByPostID(ctx, post.ID)
		if err != nil {
			return stats, fmt.Errorf("look up post %s: %w", post.ID, err)
		}
		if existing != nil {
			stats.Skipped++
			continue
		}

		var postedAt *time.Time
		if post.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339, post.Timestamp); err == nil {
				postedAt = &t
			} else {
				log.Warn().Str("postId", post.ID).Str("timestamp", post.Timestamp).Msg("Unparseable post timestamp")
			}
		}

		var images []store.CarouselImage
		order := 0
		for _, child := range post.ChildPosts {
			if child.Type != "Image" {
				continue
			}
			order++
			images = append(images, store.CarouselImage{
				ImageURL:   child.DisplayURL,
				ImageOrder: order,
				Width:      child.Width,
				Height:     child.Height,
			})
		}

		carousel := &store.Carousel{
			PostID:        post.ID,
			Username:      post.OwnerUsername,
			Caption:       post.Caption,
			LikesCount:    post.LikesCount,
			CommentsCount: post.CommentsCount,
			PostedAt:      postedAt,
			ImageCount:    len(images),
			RawData:       []byte(post.Raw),
		}
		if err := im.carousels.Create(ctx, carousel, images); err != nil {
			return stats, fmt.Errorf("store post %s: %w", post.ID, err)
		}

		stats.Imported++
		log.Info().
			Str("postId", post.ID).
			Str("carouselId", carousel.ID.String()).
			Int("images", len(images)).
			Msg("Carousel imported")
	}

	log.Info().Int("imported", stats.Imported).Int("skipped", stats.Skipped).Msg("Import finished")
	return stats, nil
}

// MirrorStats summarizes one mirror run.
type MirrorStats struct {
	Mirrored int
	Failed   int
}

// MirrorPending copies every unmirrored image from its scraped CDN URL into
// our storage and records the resulting public URL plus decoded dimensions.
// A thumbnail is stored alongside each full-size copy. Failures are counted
// and skipped so one dead CDN URL does not block the rest of the run.
func (im *Importer) MirrorPending(ctx context.Context) (*MirrorStats, error) {
	pending, err := im.images.Unmirrored(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored images: %w", err)
	}

	stats := &MirrorStats{}
	for i := range pending {
		img := &pending[i]
		if err := im.mirrorOne(ctx, img); err != nil {
			log.Warn().Err(err).Str("imageId", img.ID.String()).Msg("Mirror failed")
			stats.Failed++
			continue
		}
		stats.Mirrored++
	}

	log.Info().Int("mirrored", stats.Mirrored).Int("failed", stats.Failed).Msg("Mirror run finished")
	return stats, nil
}

func (im *Importer) mirrorOne(ctx context.Context, img *store.CarouselImage) error {
	data, contentType, err := im.fetch(ctx, img.ImageURL)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	ext := extForContentType(contentType)
	objectPath := fmt.Sprintf("carousels/%s/%d%s", img.CarouselID, img.ImageOrder, ext)
	if err := im.bucket.Upload(ctx, objectPath, data, contentType); err != nil {
		return err
	}

	// Thumbnails are best-effort; the mirror itself is what matters.
	width, height := img.Width, img.Height
	thumb, w, h, err := imaging.Thumbnail(data, imaging.DefaultMaxDimension)
	if err != nil {
		log.Warn().Err(err).Str("imageId", img.ID.String()).Msg("Thumbnail generation failed")
	} else {
		width, height = w, h
		thumbPath := fmt.Sprintf("carousels/%s/thumbs/%d.jpg", img.CarouselID, img.ImageOrder)
		if err := im.bucket.Upload(ctx, thumbPath, thumb, "image/jpeg"); err != nil {
			log.Warn().Err(err).Str("imageId", img.ID.String()).Msg("Thumbnail upload failed")
		}
	}

	mirroredURL := im.bucket.PublicURL(objectPath)
	if err := im.images.SetMirrored(ctx, img.ID, mirroredURL, width, height); err != nil {
		return fmt.Errorf("record mirror: %w", err)
	}

	log.Debug().Str("imageId", img.ID.String()).Str("url", mirroredURL).Msg("Image mirrored")
	return nil
}

func (im *Importer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
