package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"voice-intake/internal/app"
	"voice-intake/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Voice intake dialogue engine",
	Long: `intake collects operator, tractor, trailer and ETA details from a
driver's speech transcripts, confirming each value before moving on.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	f := rootCmd.PersistentFlags()
	f.String("lexicon", os.Getenv("INTAKE_LEXICON"), "YAML lexicon overriding the embedded Spanish default")
	f.String("log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	f.String("param-prefix", os.Getenv("PARAM_PREFIX"), "SSM prefix holding open-ai-token")
	f.String("api-key", os.Getenv("OPENAI_API_KEY"), "inference API key, used when --param-prefix is empty")
	f.String("inference-url", os.Getenv("INFERENCE_BASE_URL"), "OpenAI-compatible base URL")
	f.String("model", os.Getenv("INFERENCE_MODEL"), "inference model")
	f.Duration("inference-timeout", 5*time.Second, "bound on each plate/ETA inference")
	f.Bool("classify-permission", false, "ask the model to classify the permission answer")
	f.String("records-dir", envOr("RECORDS_DIR", "conversations"), "directory for JSON conversation records (empty disables)")
	f.String("table", os.Getenv("RECORDS_TABLE"), "DynamoDB table for conversation records")
	f.String("bucket", os.Getenv("ARCHIVE_BUCKET"), "S3 bucket for archived records")
	f.String("archive-prefix", os.Getenv("ARCHIVE_PREFIX"), "key prefix inside the archive bucket")
	f.String("redis", os.Getenv("REDIS_ADDR"), "Redis address(es) for shared sessions, comma separated")
	f.Duration("session-ttl", 2*time.Hour, "idle session lifetime in Redis")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// appConfig reads the persistent flags of cmd into an app.Config.
func appConfig(cmd *cobra.Command, logger *slog.Logger) app.Config {
	f := cmd.Flags()
	str := func(name string) string {
		v, _ := f.GetString(name)
		return v
	}
	dur := func(name string) time.Duration {
		v, _ := f.GetDuration(name)
		return v
	}
	classify, _ := f.GetBool("classify-permission")
	return app.Config{
		LexiconPath:        str("lexicon"),
		ParamPrefix:        str("param-prefix"),
		APIKey:             str("api-key"),
		InferenceBaseURL:   str("inference-url"),
		Model:              str("model"),
		InferenceTimeout:   dur("inference-timeout"),
		ClassifyPermission: classify,
		RecordsDir:         str("records-dir"),
		Table:              str("table"),
		Bucket:             str("bucket"),
		ArchivePrefix:      str("archive-prefix"),
		RedisAddr:          str("redis"),
		SessionTTL:         dur("session-ttl"),
		Logger:             logger,
	}
}

func levelFlag(cmd *cobra.Command) slog.Level {
	raw, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return level
}
