// Package config holds the runtime configuration for carousel-studio.
// All values are read from the environment once at startup; nothing in the
// processing pipeline reads ambient state after construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RenderHostConfig describes the remote render host: how to reach it over
// SSH, where its input/output directories live, and the loopback-bound job
// API tunnelled through remote command execution.
type RenderHostConfig struct {
	SSHHost string
	SSHPort string
	SSHUser string
	KeyPath string

	// InputDir and OutputDir are absolute paths on the render host.
	InputDir  string
	OutputDir string

	// JobAPIURL is the job API base URL as seen from inside the host
	// (typically http://127.0.0.1:8188).
	JobAPIURL string

	// ViewURL is the externally reachable HTTP endpoint for retrieving
	// produced outputs by filename, when one is exposed. Empty means
	// outputs are fetched over SSH instead.
	ViewURL string

	CommandTimeout time.Duration
	CopyTimeout    time.Duration
}

// Config is the full application configuration.
type Config struct {
	Postgres struct {
		Host     string
		Port     string
		Database string
		Username string
		Password string
		SSLMode  string
	}

	Storage struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
		// PublicBaseURL is the externally visible URL prefix for objects
		// in the public bucket.
		PublicBaseURL string
	}

	EditAPI struct {
		URL    string
		APIKey string
	}

	Suggest struct {
		GeminiAPIKey string
	}

	Scraper struct {
		ActorURL string
		Token    string
	}

	RenderHost RenderHostConfig

	Batch struct {
		SubmitDelay     time.Duration
		PollInterval    time.Duration
		MaxPollAttempts int
	}

	ListenAddr string
}

// Load reads configuration from environment variables. Callers load a .env
// file (if any) before calling this.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	cfg.Postgres.Port = getEnv("POSTGRES_PORT", "5432")
	cfg.Postgres.Database = getEnv("POSTGRES_DB", "carousel_studio")
	cfg.Postgres.Username = getEnv("POSTGRES_USER", "postgres")
	cfg.Postgres.Password = os.Getenv("POSTGRES_PASSWORD")
	cfg.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")

	cfg.Storage.Endpoint = getEnv("STORAGE_ENDPOINT", "localhost:9000")
	cfg.Storage.AccessKey = os.Getenv("STORAGE_ACCESS_KEY")
	cfg.Storage.SecretKey = os.Getenv("STORAGE_SECRET_KEY")
	cfg.Storage.Bucket = getEnv("STORAGE_BUCKET", "carousel-images")
	cfg.Storage.UseSSL = getEnv("STORAGE_USE_SSL", "false") == "true"
	cfg.Storage.PublicBaseURL = os.Getenv("STORAGE_PUBLIC_BASE_URL")

	cfg.EditAPI.URL = os.Getenv("EDIT_API_URL")
	cfg.EditAPI.APIKey = os.Getenv("EDIT_API_KEY")

	cfg.Suggest.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	cfg.Scraper.ActorURL = os.Getenv("SCRAPER_ACTOR_URL")
	cfg.Scraper.Token = os.Getenv("SCRAPER_API_TOKEN")

	cfg.RenderHost = RenderHostConfig{
		SSHHost:        os.Getenv("RENDER_SSH_HOST"),
		SSHPort:        getEnv("RENDER_SSH_PORT", "22"),
		SSHUser:        getEnv("RENDER_SSH_USER", "root"),
		KeyPath:        os.Getenv("RENDER_SSH_KEY_PATH"),
		InputDir:       getEnv("RENDER_INPUT_DIR", "/workspace/ComfyUI/input"),
		OutputDir:      getEnv("RENDER_OUTPUT_DIR", "/workspace/ComfyUI/output"),
		JobAPIURL:      getEnv("RENDER_JOB_API_URL", "http://127.0.0.1:8188"),
		ViewURL:        os.Getenv("RENDER_VIEW_URL"),
		CommandTimeout: getDuration("RENDER_COMMAND_TIMEOUT", 10*time.Second),
		CopyTimeout:    getDuration("RENDER_COPY_TIMEOUT", 30*time.Second),
	}

	cfg.Batch.SubmitDelay = getDuration("BATCH_SUBMIT_DELAY", time.Second)
	cfg.Batch.PollInterval = getDuration("BATCH_POLL_INTERVAL", 5*time.Second)
	cfg.Batch.MaxPollAttempts = getInt("BATCH_MAX_POLL_ATTEMPTS", 60)

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	return cfg, nil
}

// PostgresDSN builds the GORM/pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.Username,
		c.Postgres.Password, c.Postgres.Database, c.Postgres.SSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
