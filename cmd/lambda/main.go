package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"voice-intake/handler"
	"voice-intake/internal/app"
	"voice-intake/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	level, err := logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, using info", "err", err)
	}
	logger := logging.New(level, os.Stdout)

	cfg := app.Config{
		LexiconPath:        os.Getenv("LEXICON_PATH"),
		ParamPrefix:        mustEnv("PARAM_PREFIX"),
		InferenceBaseURL:   os.Getenv("INFERENCE_BASE_URL"),
		Model:              os.Getenv("INFERENCE_MODEL"),
		InferenceTimeout:   envDuration("INFERENCE_TIMEOUT", 5*time.Second),
		ClassifyPermission: envBool("CLASSIFY_PERMISSION", false),
		CacheSize:          envInt("INFERENCE_CACHE_SIZE", 0),
		Table:              mustEnv("RECORDS_TABLE"),
		Bucket:             os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix:      os.Getenv("ARCHIVE_PREFIX"),
		RedisAddr:          mustEnv("REDIS_ADDR"),
		SessionTTL:         envDuration("SESSION_TTL", 2*time.Hour),
		PersistTimeout:     envDuration("PERSIST_TIMEOUT", 10*time.Second),
		Logger:             logger,
	}

	// ---- Wiring ----
	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Engine, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
