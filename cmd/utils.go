package cmd

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"slicer-backend/internal/core"
	"slicer-backend/internal/pricing"
	"slicer-backend/internal/storage"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// MirrorConfig holds the optional S3 mirror settings shared by the api and
// worker binaries.
type MirrorConfig struct {
	EndpointURL     string `env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	Bucket          string `env:"MIRROR_BUCKET_NAME"`
}

// CreateMirror returns nil when no mirror bucket is configured; mirroring is
// opt-in.
func CreateMirror(cfg MirrorConfig) storage.ObjectStore {
	if cfg.Bucket == "" {
		return nil
	}

	mirror, err := storage.NewS3Store(&storage.S3StoreConfig{
		EndpointURL:     cfg.EndpointURL,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 mirror client: %v", err)
	}

	if err := mirror.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create mirror bucket: %v", err)
	}

	return mirror
}

// EngineConfig holds the slicer engine settings shared by the api and worker
// binaries.
type EngineConfig struct {
	EnginePath    string        `env:"ENGINE_PATH"`
	UploadDir     string        `env:"UPLOAD_DIR" envDefault:"./data/uploads"`
	ProfileDir    string        `env:"PROFILE_DIR" envDefault:"./data/profiles"`
	WorkDir       string        `env:"WORK_DIR" envDefault:""`
	EngineTimeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"5m"`
}

func CreateInvoker(cfg EngineConfig) *core.Invoker {
	return core.NewInvoker(cfg.EnginePath, cfg.UploadDir, cfg.ProfileDir, cfg.EngineTimeout, core.NewExecRunner())
}

// CreatePricingClient returns nil when no pricing service is configured; the
// pricing step is skipped entirely in that case.
func CreatePricingClient(baseURL, apiKey string) *pricing.Client {
	if baseURL == "" {
		return nil
	}
	return pricing.NewClient(baseURL, apiKey)
}
