package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"go.uber.org/zap"
)

var ErrRigNotFound = errors.New("rig state not found")

type StateStore interface {
	// LoadRig returns ErrRigNotFound when nothing was saved under name.
	LoadRig(ctx context.Context, name string) (*RigState, error)
	SaveRig(ctx context.Context, state *RigState) error
}

type TelemetrySink interface {
	AppendTelemetry(ctx context.Context, rig string, row TelemetryRow) error
}

// Store is a complete persistence backend.
type Store interface {
	StateStore
	TelemetrySink
	// ListRigs returns the names of all stored rigs, sorted.
	ListRigs(ctx context.Context) ([]string, error)
	Close()
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*PostgresClient)(nil)
)

// Open builds the backend selected in cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		logger.Info("Using file storage", zap.String("data_dir", cfg.Storage.DataDir))
		return NewFileStore(cfg.Storage.DataDir), nil

	case config.BackendPostgres:
		client, err := NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("Using postgres storage",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
		return client, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
