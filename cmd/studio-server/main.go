// studio-server runs the carousel studio HTTP API: browse imported
// carousels, run edit tests, approve an edit to fan it out as a
// pose-transfer batch, and download the results.
package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/assets"
	"github.com/avasquez/carousel-studio/internal/batch"
	"github.com/avasquez/carousel-studio/internal/config"
	"github.com/avasquez/carousel-studio/internal/editapi"
	"github.com/avasquez/carousel-studio/internal/logging"
	"github.com/avasquez/carousel-studio/internal/render"
	"github.com/avasquez/carousel-studio/internal/server"
	"github.com/avasquez/carousel-studio/internal/storage"
	"github.com/avasquez/carousel-studio/internal/store"
)

func main() {
	// Optional local overrides; absence is fine in deployed environments.
	_ = godotenv.Load(".env.local")
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := store.Open(cfg.PostgresDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := store.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate schema")
	}

	bucket, err := storage.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to object storage")
	}
	if err := bucket.EnsureBucket(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare storage bucket")
	}

	transport, err := render.NewSSHTransport(cfg.RenderHost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure render host transport")
	}
	renderClient := render.NewClient(transport, cfg.RenderHost)

	template, err := render.LoadTemplate(assets.PoseTransferWorkflow, render.DefaultSlots)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pose-transfer workflow template")
	}

	batchRepo := store.NewBatchRepository(db)
	orchestrator := batch.NewOrchestrator(renderClient, template, batchRepo, bucket, nil, batch.Options{
		SubmitDelay:     cfg.Batch.SubmitDelay,
		PollInterval:    cfg.Batch.PollInterval,
		MaxPollAttempts: cfg.Batch.MaxPollAttempts,
		WorkflowName:    assets.PoseTransferWorkflowName,
	})

	ctrl := &server.Controller{
		Carousels: store.NewCarouselRepository(db),
		Images:    store.NewImageRepository(db),
		Edits:     store.NewEditTestRepository(db),
		Batches:   batchRepo,
		Editor:    editapi.NewClient(cfg.EditAPI.URL, cfg.EditAPI.APIKey),
		Runner:    orchestrator,
		Bucket:    bucket,
	}

	router := server.SetupRouter(ctrl)
	log.Info().Str("addr", cfg.ListenAddr).Msg("Starting studio server")
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
