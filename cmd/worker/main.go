package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"slicer-backend/cmd"
	"slicer-backend/internal/core"
	"slicer-backend/internal/database"
	"slicer-backend/internal/messaging"
	"slicer-backend/internal/signing"
	"slicer-backend/internal/storage"
)

type WorkerConfig struct {
	DatabaseURL    string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string `env:"RABBITMQ_URL,notEmpty,required"`
	SigningSecret  string `env:"URL_SIGNING_SECRET,notEmpty,required"`
	PricingURL     string `env:"PRICING_URL"`
	PricingAPIKey  string `env:"PRICING_API_KEY"`
	PurgeOnFailure bool   `env:"PURGE_ARTIFACTS_ON_FAILURE" envDefault:"false"`

	Engine cmd.EngineConfig
	Mirror cmd.MirrorConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewLocalStore(cfg.Engine.UploadDir)
	if err != nil {
		log.Fatalf("Failed to create upload storage: %v", err)
	}

	signer, err := signing.NewSigner(cfg.SigningSecret, store.BaseDir())
	if err != nil {
		log.Fatalf("Failed to create link signer: %v", err)
	}

	pipeline := core.NewPipeline(db, store, cmd.CreateInvoker(cfg.Engine), signer, core.PipelineOptions{
		WorkRoot:       cfg.Engine.WorkDir,
		Mirror:         cmd.CreateMirror(cfg.Mirror),
		Pricing:        cmd.CreatePricingClient(cfg.PricingURL, cfg.PricingAPIKey),
		PurgeOnFailure: cfg.PurgeOnFailure,
	})

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(pipeline, receiver)
	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
