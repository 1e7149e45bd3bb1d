// Package server exposes the studio's HTTP API: browsing imported
// carousels, running single-image edit tests, and approving an edit to
// fan it out as a pose-transfer batch.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/batch"
	"github.com/avasquez/carousel-studio/internal/store"
)

// ImageEditor runs one synchronous edit. Satisfied by *editapi.Client.
type ImageEditor interface {
	Edit(ctx context.Context, prompt, imageURL string) (string, error)
}

// BatchRunner executes the pose-transfer fan-out. Satisfied by
// *batch.Orchestrator.
type BatchRunner interface {
	RunBatch(ctx context.Context, edit *store.EditTest, items []batch.Item) (*batch.Result, error)
}

// Bundler reads stored objects back for download bundles. Satisfied by
// *storage.Bucket.
type Bundler interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// The store surfaces the handlers need, satisfied by the repositories in
// internal/store.
type CarouselStore interface {
	List(ctx context.Context) ([]store.Carousel, error)
	FindByID(ctx context.Context, id uuid.UUID) (*store.Carousel, error)
}

type ImageStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*store.CarouselImage, error)
	ByCarousel(ctx context.Context, carouselID uuid.UUID) ([]store.CarouselImage, error)
	FirstOfCarousel(ctx context.Context, carouselID uuid.UUID) (*store.CarouselImage, error)
	Siblings(ctx context.Context, carouselID, excludeImageID uuid.UUID) ([]store.CarouselImage, error)
}

type EditStore interface {
	Create(ctx context.Context, test *store.EditTest) error
	FindByID(ctx context.Context, id uuid.UUID) (*store.EditTest, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string) error
	MarkRejected(ctx context.Context, id uuid.UUID, notes string) error
	MarkApproved(ctx context.Context, id uuid.UUID, notes string) error
}

type BatchReadStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*store.PoseBatch, error)
	List(ctx context.Context) ([]store.PoseBatch, error)
	ListByStatus(ctx context.Context, status string) ([]store.PoseBatch, error)
}

// Controller holds the API's dependencies.
type Controller struct {
	Carousels CarouselStore
	Images    ImageStore
	Edits     EditStore
	Batches   BatchReadStore

	Editor ImageEditor
	Runner BatchRunner
	Bucket Bundler
}

// ListCarousels returns all imported carousels, most recent first.
func (ctrl *Controller) ListCarousels(c *gin.Context) {
	carousels, err := ctrl.Carousels.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("List carousels failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list carousels"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"carousels": carousels})
}

// GetCarousel returns one carousel with its images.
func (ctrl *Controller) GetCarousel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid carousel id"})
		return
	}

	ctx := c.Request.Context()
	carousel, err := ctrl.Carousels.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("carouselId", id.String()).Msg("Get carousel failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load carousel"})
		return
	}
	if carousel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "carousel not found"})
		return
	}

	images, err := ctrl.Images.ByCarousel(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("carouselId", id.String()).Msg("Load carousel images failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load carousel images"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"carousel": carousel, "images": images})
}

type createEditRequest struct {
	CarouselID string `json:"carousel_id" binding:"required"`
	ImageID    string `json:"image_id"`
	EditPrompt string `json:"edit_prompt" binding:"required"`
}

// CreateEdit runs a synchronous edit test against one carousel image.
// When no image is named the carousel's cover image is used. The edit
// record survives either way; a failed model call leaves it rejected
// with the failure noted.
func (ctrl *Controller) CreateEdit(c *gin.Context) {
	var req createEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	carouselID, err := uuid.Parse(req.CarouselID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid carousel_id"})
		return
	}

	ctx := c.Request.Context()
	carousel, err := ctrl.Carousels.FindByID(ctx, carouselID)
	if err != nil {
		log.Error().Err(err).Str("carouselId", carouselID.String()).Msg("Load carousel for edit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load carousel"})
		return
	}
	if carousel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "carousel not found"})
		return
	}

	var img *store.CarouselImage
	if req.ImageID != "" {
		imageID, err := uuid.Parse(req.ImageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image_id"})
			return
		}
		img, err = ctrl.Images.FindByID(ctx, imageID)
		if err != nil {
			log.Error().Err(err).Str("imageId", imageID.String()).Msg("Load image for edit failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load image"})
			return
		}
		if img == nil || img.CarouselID != carouselID {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found in carousel"})
			return
		}
	} else {
		img, err = ctrl.Images.FirstOfCarousel(ctx, carouselID)
		if err != nil {
			log.Error().Err(err).Str("carouselId", carouselID.String()).Msg("Load cover image failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cover image"})
			return
		}
		if img == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "carousel has no images"})
			return
		}
	}

	edit := &store.EditTest{
		CarouselID: carouselID,
		ImageID:    img.ID,
		EditPrompt: req.EditPrompt,
		Status:     store.EditStatusProcessing,
	}
	if err := ctrl.Edits.Create(ctx, edit); err != nil {
		log.Error().Err(err).Msg("Create edit record failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create edit"})
		return
	}

	log.Info().
		Str("editTestId", edit.ID.String()).
		Str("imageId", img.ID.String()).
		Msg("Running edit test")

	resultURL, err := ctrl.Editor.Edit(ctx, req.EditPrompt, img.SourceURL())
	if err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Edit generation failed")
		if markErr := ctrl.Edits.MarkRejected(ctx, edit.ID, "edit generation failed: "+err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("editTestId", edit.ID.String()).Msg("Failed to record edit failure")
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "edit generation failed", "edit_test_id": edit.ID})
		return
	}

	if err := ctrl.Edits.MarkCompleted(ctx, edit.ID, resultURL); err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Failed to record edit result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record edit result"})
		return
	}

	edit.Status = store.EditStatusCompleted
	edit.ResultURL = resultURL
	c.JSON(http.StatusCreated, gin.H{"edit": edit})
}

// GetEdit returns one edit test.
func (ctrl *Controller) GetEdit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid edit id"})
		return
	}

	edit, err := ctrl.Edits.FindByID(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("editTestId", id.String()).Msg("Get edit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load edit"})
		return
	}
	if edit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "edit not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"edit": edit})
}

type verdictRequest struct {
	Notes string `json:"notes"`
}

// ApproveEdit records the operator's approval and immediately fans the
// approved look out across the carousel's other images. The response is
// not sent until the whole batch has run; partial success still counts
// as success.
func (ctrl *Controller) ApproveEdit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid edit id"})
		return
	}

	// The body is optional; a bare POST means a verdict without notes.
	var req verdictRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	edit, err := ctrl.Edits.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("editTestId", id.String()).Msg("Load edit for approval failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load edit"})
		return
	}
	if edit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "edit not found"})
		return
	}
	if edit.Status != store.EditStatusCompleted || edit.ResultURL == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "edit has no completed result to approve"})
		return
	}

	if err := ctrl.Edits.MarkApproved(ctx, edit.ID, req.Notes); err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Record approval failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record approval"})
		return
	}

	siblings, err := ctrl.Images.Siblings(ctx, edit.CarouselID, edit.ImageID)
	if err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Load siblings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load carousel images"})
		return
	}

	items := make([]batch.Item, len(siblings))
	for i, s := range siblings {
		items[i] = batch.Item{ID: s.ID, URL: s.SourceURL(), Order: s.ImageOrder}
	}

	result, err := ctrl.Runner.RunBatch(ctx, edit, items)
	if err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Pose transfer batch failed")
		resp := gin.H{"error": "pose transfer batch failed"}
		if result != nil && result.BatchID != uuid.Nil {
			resp["batch_id"] = result.BatchID
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	resp := gin.H{"message": result.Message}
	if result.BatchID != uuid.Nil {
		resp["batch_id"] = result.BatchID
		resp["completed_images"] = result.CompletedImages
		resp["generated"] = result.Generated
		resp["total"] = result.Total
	}
	c.JSON(http.StatusOK, resp)
}

// RejectEdit records the operator's rejection with optional notes.
func (ctrl *Controller) RejectEdit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid edit id"})
		return
	}

	// The body is optional; a bare POST means a verdict without notes.
	var req verdictRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	edit, err := ctrl.Edits.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("editTestId", id.String()).Msg("Load edit for rejection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load edit"})
		return
	}
	if edit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "edit not found"})
		return
	}

	if err := ctrl.Edits.MarkRejected(ctx, edit.ID, req.Notes); err != nil {
		log.Error().Err(err).Str("editTestId", edit.ID.String()).Msg("Record rejection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record rejection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Edit rejected."})
}

// ListBatches returns all pose-transfer batches, most recent first. An
// optional status query filters by state.
func (ctrl *Controller) ListBatches(c *gin.Context) {
	ctx := c.Request.Context()

	var batches []store.PoseBatch
	var err error
	if status := c.Query("status"); status != "" {
		batches, err = ctrl.Batches.ListByStatus(ctx, status)
	} else {
		batches, err = ctrl.Batches.List(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("List batches failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list batches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// GetBatch returns one batch record.
func (ctrl *Controller) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}

	b, err := ctrl.Batches.FindByID(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("batchId", id.String()).Msg("Get batch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load batch"})
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b})
}
