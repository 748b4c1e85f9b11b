// Package app wires the document pipeline together: fetcher, extractor,
// provider gateway, summarizer, session manager and the HTTP server.
package app

import (
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/config"
	"github.com/analysedoc/analysedoc/internal/core/extract"
	"github.com/analysedoc/analysedoc/internal/core/fetch"
	"github.com/analysedoc/analysedoc/internal/core/llm"
	"github.com/analysedoc/analysedoc/internal/core/session"
	"github.com/analysedoc/analysedoc/internal/core/summary"
)

type App struct {
	Manager *session.Manager
	Server  *Server
	logger  *zap.Logger
}

func NewApp(cfg *config.Config) (*App, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(cfg.Proxy(), cfg.FetchTimeout, logger)
	extractor := extract.New(fetcher, logger)

	gateway := llm.NewGateway(logger,
		llm.NewGroq(logger),
		llm.NewOpenAI(logger),
		llm.NewGemini(logger),
	)
	summarizer := summary.New(gateway, logger)

	manager := session.NewManager(extractor, gateway, summarizer, logger)
	manager.SetChunkDefaults(cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens)
	server := NewServer(cfg, manager, logger)

	logger.Info("pipeline initialized",
		zap.Bool("proxy", cfg.Proxy() != nil),
		zap.Int("chunk_max_tokens", cfg.ChunkMaxTokens),
		zap.Int("chunk_overlap_tokens", cfg.ChunkOverlapTokens))

	return &App{Manager: manager, Server: server, logger: logger}, nil
}

func (a *App) Close() {
	_ = a.logger.Sync()
}
