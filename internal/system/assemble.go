package system

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/machine"
	"github.com/KevinKickass/OpenWateringCore/internal/rig"
	"github.com/KevinKickass/OpenWateringCore/internal/scale"
	"github.com/KevinKickass/OpenWateringCore/internal/serial"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"go.uber.org/zap"
)

// Assembly is a controller together with the resources it runs on.
type Assembly struct {
	Controller *machine.Controller
	Link       *serial.Link
	Store      storage.Store
}

// Assemble opens storage and the serial link and builds the configured rig's
// controller.
func Assemble(ctx context.Context, cfg *config.Config, reg *machine.Registry, logger *zap.Logger) (*Assembly, error) {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	link, err := serial.Open(cfg.Serial, logger.Named("serial"))
	if err != nil {
		store.Close()
		return nil, err
	}

	deps := machine.Deps{
		Device:    link,
		Scales:    scale.New(link, cfg.Scale, logger.Named("scale")),
		States:    store,
		Telemetry: store,
		Config:    cfg.Controller,
		Logger:    logger.Named("machine"),
	}

	ctrl, err := LoadOrCreate(ctx, cfg.Rig, reg, deps, logger)
	if err != nil {
		link.Close()
		store.Close()
		return nil, err
	}

	return &Assembly{Controller: ctrl, Link: link, Store: store}, nil
}

// LoadOrCreate restores the rig from storage. A rig that was never saved is
// built from its definition file and saved right away.
func LoadOrCreate(ctx context.Context, cfg config.RigConfig, reg *machine.Registry, deps machine.Deps, logger *zap.Logger) (*machine.Controller, error) {
	ctrl, err := machine.Load(ctx, reg, cfg.Name, deps)
	if err == nil {
		logger.Info("Rig restored from storage", zap.String("rig", cfg.Name))
		return ctrl, nil
	}
	if !errors.Is(err, storage.ErrRigNotFound) {
		return nil, fmt.Errorf("failed to load rig %s: %w", cfg.Name, err)
	}

	loader, err := rig.NewLoader()
	if err != nil {
		return nil, err
	}
	def, err := loader.Load(cfg.Definition)
	if err != nil {
		return nil, err
	}
	if def.Name != cfg.Name {
		return nil, fmt.Errorf("definition %s describes rig %q, config names %q", cfg.Definition, def.Name, cfg.Name)
	}

	ctrl, err = machine.New(reg, def.Name, def.Positions, def.CloneSchedules(), deps)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Save(ctx); err != nil {
		return nil, err
	}

	logger.Info("Rig created from definition",
		zap.String("rig", def.Name),
		zap.String("definition", cfg.Definition),
		zap.Int("channels", def.ChannelCount()))
	return ctrl, nil
}

// Close releases the link and the store.
func (a *Assembly) Close() error {
	err := a.Link.Close()
	a.Store.Close()
	return err
}
