// Command server boots the agent runtime's HTTP surface: it loads
// configuration, wires the model client, checkpoint store, blob store,
// tool registry, compaction engine, and agent loop together behind the
// session facade, then serves the HTTP API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentcore/runtime/internal/agentloop"
	"github.com/agentcore/runtime/internal/blobstore"
	"github.com/agentcore/runtime/internal/checkpoint"
	"github.com/agentcore/runtime/internal/checkpoint/inmem"
	"github.com/agentcore/runtime/internal/checkpoint/mongocp"
	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/datasource/httpds"
	"github.com/agentcore/runtime/internal/datasource/sqlds"
	"github.com/agentcore/runtime/internal/httpapi"
	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/model/anthropic"
	"github.com/agentcore/runtime/internal/model/openai"
	"github.com/agentcore/runtime/internal/sandbox"
	"github.com/agentcore/runtime/internal/session"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/internal/tokenaccount"
	"github.com/agentcore/runtime/internal/tools"
)

const defaultSystemPrompt = "You are an agent with access to tools. Use them to answer the user's request accurately."

func main() {
	logger := telemetry.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	metrics := telemetry.NewOtelMetrics("agentcore.runtime")

	cfg, err := config.Load()
	if err != nil {
		logger.Error(context.Background(), "configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	modelClient, err := buildModelClient(cfg)
	if err != nil {
		logger.Error(ctx, "model client setup failed", "error", err)
		os.Exit(1)
	}

	checkpoints, err := buildCheckpointStore(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "checkpoint store setup failed", "error", err)
		os.Exit(1)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.Config{
		Bucket:   cfg.BlobBucket,
		Region:   cfg.BlobRegion,
		Endpoint: cfg.BlobEndpoint,
		Prefix:   "compaction",
	})
	if err != nil {
		logger.Error(ctx, "blob store setup failed", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	if err := sandbox.New(sandbox.Config{}).Register(registry); err != nil {
		logger.Error(ctx, "sandbox tool registration failed", "error", err)
		os.Exit(1)
	}
	if err := registerDatasources(ctx, registry, cfg); err != nil {
		logger.Error(ctx, "datasource registration failed", "error", err)
		os.Exit(1)
	}

	accountant := tokenaccount.New(nil)
	compactor := compaction.New(modelClient, accountant, blobs)
	loop := agentloop.New(agentloop.Options{
		Registry:       registry,
		Model:          modelClient,
		Compactor:      compactor,
		Checkpoints:    checkpoints,
		Accountant:     accountant,
		Threshold:      cfg.CompactionThreshold,
		RecursionBound: cfg.RecursionBound,
	})
	facade := session.New(defaultSystemPrompt, checkpoints, loop)

	handler := httpapi.NewHandler(facade, logger, metrics)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.Register(engine)

	logger.Info(ctx, "listening", "addr", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, engine); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}

func buildModelClient(cfg *config.Config) (model.Client, error) {
	modelName := cfg.ModelName
	switch cfg.ModelProvider {
	case config.ProviderAnthropic:
		if modelName == "" {
			modelName = "claude-sonnet-4-5"
		}
		return anthropic.NewFromAPIKey(cfg.AnthropicKey, modelName)
	case config.ProviderOpenAI:
		if modelName == "" {
			modelName = "gpt-4o"
		}
		return openai.NewFromAPIKey(cfg.OpenAIKey, modelName)
	default:
		return nil, errUnknownProvider(cfg.ModelProvider)
	}
}

type errUnknownProvider config.ModelProvider

func (e errUnknownProvider) Error() string { return "unknown model provider: " + string(e) }

func buildCheckpointStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	if cfg.CheckpointDSN == "memory://" {
		return inmem.New(), nil
	}
	client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.CheckpointDSN))
	if err != nil {
		return nil, err
	}
	return mongocp.New(mongocp.Options{Client: client, Database: "agentcore"})
}

func registerDatasources(ctx context.Context, registry *tools.Registry, cfg *config.Config) error {
	for name, ds := range cfg.Datasources {
		switch {
		case strings.HasPrefix(ds.DSN, "postgres://") || strings.HasPrefix(ds.DSN, "postgresql://"):
			pool, err := sqlds.Connect(ctx, ds.DSN)
			if err != nil {
				return err
			}
			if err := sqlds.New(pool, strings.ToLower(name)).Register(registry); err != nil {
				return err
			}
		case ds.DSN != "":
			adapter := httpds.New(strings.ToLower(name), httpds.Options{
				BaseURL: ds.DSN,
				Token:   ds.Token,
				Timeout: 10 * time.Second,
			})
			if err := adapter.Register(registry); err != nil {
				return err
			}
		}
	}
	return nil
}
