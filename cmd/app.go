package cmd

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"persona-chat/internal/chat"
	"persona-chat/internal/config"
	"persona-chat/internal/llm"
	"persona-chat/internal/memory"
	"persona-chat/internal/persona"
	"persona-chat/internal/provider"
	providerfactory "persona-chat/internal/provider/factory"
)

// app bundles the components shared by every command.
type app struct {
	store memory.Store
	chat  *chat.Service
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	return config.Load(opts.configPath)
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := memory.Open(cfg.Memory, logger.Named("memory"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	builder, err := persona.New(cfg.Persona)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(registry); err != nil {
		return nil, errors.Join(err, store.Close())
	}

	orchestrator, err := llm.New(cfg.LLM.OrchestratorConfig(), registry.Connector(cfg.LLM.Provider), logger.Named("llm"))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	svc, err := chat.New(store, builder, orchestrator, logger.Named("chat"))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	return &app{store: store, chat: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
