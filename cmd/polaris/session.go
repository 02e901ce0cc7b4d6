package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tech-Tweakers/polaris-core/internal/backend"
	"github.com/Tech-Tweakers/polaris-core/internal/config"
	"github.com/Tech-Tweakers/polaris-core/internal/history"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

type loadedSession struct {
	*inference.Session
	model   inference.Model
	backend string
}

func (l *loadedSession) Close() error {
	return errors.Join(l.Session.Close(), l.model.Close())
}

func openSession(ctx context.Context, cfg config.Config) (*loadedSession, error) {
	log := logger.FromContext(ctx)

	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	bopts := cfg.BackendOptions()
	bopts.Logger = log

	start := time.Now()
	model, name, err := backend.Open(cfg.Backend, bopts)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	sess, err := inference.NewSession(model, opts)
	if err != nil {
		_ = model.Close()
		return nil, err
	}
	log.Info("session ready",
		"backend", name,
		"context", sess.ContextSize(),
		"chunk", opts.Chunk,
		"took", time.Since(start),
	)
	return &loadedSession{Session: sess, model: model, backend: name}, nil
}

func openHistory(ctx context.Context, path string) (*history.Store, error) {
	if path == "" {
		return nil, nil
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("history enabled", "path", path)
	return store, nil
}
