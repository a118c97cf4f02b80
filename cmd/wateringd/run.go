package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/machine"
	"github.com/KevinKickass/OpenWateringCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop until interrupted",
	RunE:  runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asm, err := system.Assemble(ctx, cfg, machine.NewRegistry(), logger)
	if err != nil {
		return err
	}

	lifecycle := system.NewLifecycleManager(asm.Controller, asm, cfg.Controller.TickSchedule, logger.Named("system"))
	if err := lifecycle.Start(ctx); err != nil {
		_ = asm.Close()
		return err
	}

	logger.Info("OpenWateringCore started", zap.String("rig", asm.Controller.Name()))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Error("Control loop stopped", zap.Error(lifecycle.Err()))
	}
	failure := lifecycle.Err()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("OpenWateringCore stopped")
	return failure
}
