// Package app assembles the intake engine and its collaborators from a
// resolved Config. Entry points read their environment or flags into a Config
// and call Build.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"

	"voice-intake/internal/archive"
	"voice-intake/internal/config"
	"voice-intake/internal/dialogue"
	"voice-intake/internal/extract"
	"voice-intake/internal/integrations/openai"
	"voice-intake/internal/integrations/paramstore"
	"voice-intake/internal/logging"
	"voice-intake/internal/metrics"
	"voice-intake/internal/recorder"
	"voice-intake/internal/repository"
	"voice-intake/internal/sessionstore"
)

type Config struct {
	// LexiconPath overrides the embedded lexicon when set.
	LexiconPath string

	// ParamPrefix locates the inference token (<prefix>/open-ai-token) and an
	// optional model override (<prefix>/open-ai-model) in SSM.
	ParamPrefix string
	// APIKey is used instead of SSM when ParamPrefix is empty.
	APIKey             string
	InferenceBaseURL   string
	Model              string
	InferenceTimeout   time.Duration
	ClassifyPermission bool
	// CacheSize bounds the inference cache. Zero keeps the default and a
	// negative value disables it.
	CacheSize int

	RecordsDir    string
	Table         string
	Bucket        string
	ArchivePrefix string

	RedisAddr  string
	SessionTTL time.Duration

	PersistTimeout time.Duration
	Logger         *slog.Logger
}

type App struct {
	Engine   *dialogue.Engine
	Sessions *sessionstore.Manager
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	// Records is set when a DynamoDB table is configured.
	Records *repository.Client

	closers []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// staticToken serves an API key in the same JSON shape SSM stores it in.
type staticToken string

func (s staticToken) GetParameter(context.Context, string) (string, error) {
	raw, err := json.Marshal(map[string]string{"token": string(s)})
	return string(raw), err
}

// Build wires the engine described by cfg. AWS clients are created only for
// the features that need them.
func Build(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	lex := config.Default()
	if cfg.LexiconPath != "" {
		var err error
		if lex, err = config.Load(cfg.LexiconPath); err != nil {
			return nil, fmt.Errorf("app: load lexicon: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	a := &App{Metrics: m, Registry: reg}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	// ---- Inference ----
	var inference extract.InferenceClient
	var getter openai.Getter
	prefix := cfg.ParamPrefix
	switch {
	case cfg.ParamPrefix != "":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("app: create paramstore client: %w", err)
		}
		getter = ps
		if cfg.Model == "" {
			cfg.Model = modelFromParamStore(ctx, ps, prefix, logger)
		}
	case cfg.APIKey != "":
		getter = staticToken(cfg.APIKey)
		prefix = "local"
	}
	if getter != nil {
		client, err := openai.NewClient(getter, prefix,
			openai.WithBaseURL(cfg.InferenceBaseURL),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("app: create inference client: %w", err)
		}
		inference = client
	} else {
		logger.Warn("no inference credentials configured, plates and ETA must be spoken in canonical form")
	}
	extractOpts := []extract.Option{
		extract.WithTimeout(cfg.InferenceTimeout),
		extract.WithObserver(m),
		extract.WithLogger(logger),
	}
	if cfg.CacheSize != 0 {
		extractOpts = append(extractOpts, extract.WithCacheSize(cfg.CacheSize))
	}
	extractor := extract.New(inference, extractOpts...)

	// ---- Persistence ----
	var sinks []recorder.Sink
	if cfg.RecordsDir != "" {
		fs, err := recorder.NewFileSink(cfg.RecordsDir)
		if err != nil {
			return nil, fmt.Errorf("app: create file sink: %w", err)
		}
		sinks = append(sinks, fs)
	}
	if cfg.Table != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("app: create record table client: %w", err)
		}
		a.Records = repo
		sinks = append(sinks, repo)
	}
	if cfg.Bucket != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		arch, err := archive.New(awss3.NewFromConfig(c), cfg.Bucket, cfg.ArchivePrefix)
		if err != nil {
			return nil, fmt.Errorf("app: create archive: %w", err)
		}
		sinks = append(sinks, arch)
	}
	rec, err := recorder.New(lex.Fields, sinks, recorder.WithObserver(m), recorder.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("app: create recorder: %w", err)
	}

	// ---- Sessions ----
	var store sessionstore.Backend
	var managerOpts []sessionstore.Option
	managerOpts = append(managerOpts, sessionstore.WithLogger(logger), sessionstore.WithObserver(m))
	if cfg.RedisAddr != "" {
		rc := backend.NewUniversalClient(&backend.UniversalOptions{Addrs: strings.Split(cfg.RedisAddr, ",")})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("app: ping redis: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		var redisOpts []sessionstore.RedisOption
		if cfg.SessionTTL > 0 {
			redisOpts = append(redisOpts, sessionstore.WithTTL(cfg.SessionTTL))
		}
		store = sessionstore.NewRedis(rc, redisOpts...)
		managerOpts = append(managerOpts, sessionstore.WithLocker(sessionstore.NewRedisLocker(rc, "")))
	}
	a.Sessions = sessionstore.NewManager(store, managerOpts...)

	// ---- Engine ----
	engineOpts := []dialogue.Option{
		dialogue.WithMetrics(m),
		dialogue.WithLogger(logger),
		dialogue.WithPersistTimeout(cfg.PersistTimeout),
	}
	if cfg.ClassifyPermission && inference != nil {
		engineOpts = append(engineOpts, dialogue.WithClassifier(dialogue.FallbackClassifier{
			Primary:  extract.NewPermissionClassifier(inference, cfg.InferenceTimeout, logger),
			Fallback: dialogue.NewKeywordClassifier(lex.Refusals, lex.Affirmations),
		}))
	}
	engine, err := dialogue.NewEngine(lex, a.Sessions, extractor, rec, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create engine: %w", err)
	}
	a.Engine = engine
	return a, nil
}

// modelFromParamStore returns the model override stored under the prefix, or
// "" to keep the client default.
func modelFromParamStore(ctx context.Context, ps *paramstore.Client, prefix string, logger *slog.Logger) string {
	v, err := ps.GetParameter(ctx, prefix+"/open-ai-model")
	if err != nil {
		logger.Debug("no model override in parameter store", "err", err)
		return ""
	}
	return strings.TrimSpace(v)
}
