package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"perception-core/internal/logger"
	"perception-core/internal/minio"
	"perception-core/services/perception"
)

func main() {
	logger.Init()
	log := logger.Component("main")

	cfg := perception.Config{
		KafkaBrokers: getEnvBrokers("KAFKA_BROKERS", []string{"redpanda:9092"}),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		Minio: minio.Config{
			Endpoint:        getEnv("MINIO_ENDPOINT", "minio:9000"),
			AccessKeyID:     getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:          getEnv("MINIO_USE_SSL", "false") == "true",
		},
		ProfileBucket: getEnv("PROFILE_BUCKET", "perception-config"),
		GroupID:       getEnv("KAFKA_GROUP_ID", "perception-service-group"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down perception service")
		cancel()
	}()

	service, err := perception.NewService(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create perception service")
	}

	service.Start(ctx)
	<-ctx.Done()
	service.Stop()
	log.Info("Perception service stopped")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBrokers(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		brokers := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				brokers = append(brokers, trimmed)
			}
		}
		if len(brokers) > 0 {
			return brokers
		}
	}
	return fallback
}
