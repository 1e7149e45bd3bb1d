// studioctl is the operator CLI for the carousel studio: scrape profiles,
// import and mirror carousels, generate edit suggestions, and run
// database maintenance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/avasquez/carousel-studio/internal/config"
	"github.com/avasquez/carousel-studio/internal/importer"
	"github.com/avasquez/carousel-studio/internal/logging"
	"github.com/avasquez/carousel-studio/internal/scrape"
	"github.com/avasquez/carousel-studio/internal/storage"
	"github.com/avasquez/carousel-studio/internal/store"
	"github.com/avasquez/carousel-studio/internal/suggest"
)

// CLI flags
var (
	usernameFlag string
	limitFlag    int
	fileFlag     string
	postIDFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "Operator tooling for the carousel studio",
	Long: `studioctl drives the offline half of the carousel pipeline: scraping
profile posts, importing carousels into the database, mirroring their
images into our own storage, and generating edit suggestions.

Examples:
  studioctl fetch -u some.profile
  studioctl import --file instagram_some.profile_data.json
  studioctl mirror
  studioctl suggest --post-id 3412786
  studioctl migrate
  studioctl clear-batches`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load(".env.local")
		logging.Init()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Scrape a profile's posts and save them to a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Scraper.ActorURL == "" || cfg.Scraper.Token == "" {
			return fmt.Errorf("SCRAPER_ACTOR_URL and SCRAPER_API_TOKEN must be set")
		}

		client := scrape.NewClient(cfg.Scraper.ActorURL, cfg.Scraper.Token)
		posts, err := client.FetchProfile(cmd.Context(), usernameFlag, limitFlag)
		if err != nil {
			return err
		}

		raw := make([]json.RawMessage, len(posts))
		for i, p := range posts {
			raw[i] = p.Raw
		}
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return err
		}

		outFile := fmt.Sprintf("instagram_%s_data.json", usernameFlag)
		if err := os.WriteFile(outFile, data, 0o644); err != nil {
			return err
		}
		log.Info().Str("file", outFile).Int("posts", len(posts)).Msg("Scrape saved")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import carousels from a scraped JSON file into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fileFlag == "" {
			return fmt.Errorf("--file is required")
		}
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return err
		}

		var rawItems []json.RawMessage
		if err := json.Unmarshal(data, &rawItems); err != nil {
			return fmt.Errorf("parse %s: %w", fileFlag, err)
		}
		posts := make([]scrape.Post, 0, len(rawItems))
		for _, raw := range rawItems {
			var p scrape.Post
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Warn().Err(err).Msg("Skipping unparseable post")
				continue
			}
			p.Raw = raw
			posts = append(posts, p)
		}

		db, bucket, err := setup(cmd.Context())
		if err != nil {
			return err
		}

		im := importer.New(store.NewCarouselRepository(db), store.NewImageRepository(db), bucket)
		stats, err := im.ImportPosts(cmd.Context(), posts)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d carousels (%d already present)\n", stats.Imported, stats.Skipped)
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy unmirrored carousel images into our own storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, bucket, err := setup(cmd.Context())
		if err != nil {
			return err
		}

		im := importer.New(store.NewCarouselRepository(db), store.NewImageRepository(db), bucket)
		stats, err := im.MirrorPending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Mirrored %d images (%d failed)\n", stats.Mirrored, stats.Failed)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Generate edit-prompt suggestions for a carousel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if postIDFlag == "" {
			return fmt.Errorf("--post-id is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Suggest.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY must be set")
		}

		db, err := store.Open(cfg.PostgresDSN())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		carousels := store.NewCarouselRepository(db)
		carousel, err := carousels.FindByPostID(ctx, postIDFlag)
		if err != nil {
			return err
		}
		if carousel == nil {
			return fmt.Errorf("no carousel with post id %s", postIDFlag)
		}
		images, err := store.NewImageRepository(db).ByCarousel(ctx, carousel.ID)
		if err != nil {
			return err
		}

		suggester, err := suggest.NewSuggester(ctx, cfg.Suggest.GeminiAPIKey)
		if err != nil {
			return err
		}
		suggestion, err := suggester.Suggest(ctx, carousel, images)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(suggestion, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.PostgresDSN())
		if err != nil {
			return err
		}
		if err := store.AutoMigrate(db); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

var clearBatchesCmd = &cobra.Command{
	Use:   "clear-batches",
	Short: "Force-complete batches stuck in the processing state",
	Long: `A crash mid-batch leaves the batch record in processing forever.
clear-batches marks every processing batch completed so the listing
reflects reality again. Outputs already published are unaffected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.PostgresDSN())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		batches := store.NewBatchRepository(db)
		stuck, err := batches.ListByStatus(ctx, store.BatchStatusProcessing)
		if err != nil {
			return err
		}
		for _, b := range stuck {
			if err := batches.ForceComplete(ctx, b.ID); err != nil {
				return fmt.Errorf("force-complete %s: %w", b.ID, err)
			}
			log.Info().Str("batchId", b.ID.String()).Msg("Batch force-completed")
		}
		fmt.Printf("Cleared %d stuck batches\n", len(stuck))
		return nil
	},
}

// setup opens the database and object storage for commands that need both.
func setup(ctx context.Context) (*gorm.DB, *storage.Bucket, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.PostgresDSN())
	if err != nil {
		return nil, nil, err
	}
	bucket, err := storage.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := bucket.EnsureBucket(ctx); err != nil {
		return nil, nil, err
	}
	return db, bucket, nil
}

func init() {
	fetchCmd.Flags().StringVarP(&usernameFlag, "username", "u", "", "Profile username to scrape (without @)")
	fetchCmd.Flags().IntVar(&limitFlag, "limit", 300, "Maximum posts to fetch")
	importCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Scraped JSON file to import")
	suggestCmd.Flags().StringVar(&postIDFlag, "post-id", "", "Source post identifier of the carousel")

	rootCmd.AddCommand(fetchCmd, importCmd, mirrorCmd, suggestCmd, migrateCmd, clearBatchesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
