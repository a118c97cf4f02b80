package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/machine"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Rig is the controller surface the lifecycle drives.
type Rig interface {
	Name() string
	Begin(ctx context.Context) error
	Tick(ctx context.Context) (*machine.TickResult, error)
}

// LifecycleManager runs a rig's ticks on a cron schedule. At most one tick
// runs at a time.
type LifecycleManager struct {
	rig      Rig
	closer   io.Closer
	schedule string
	logger   *zap.Logger

	cron *cron.Cron
	job  cron.Job

	tickCtx    context.Context
	cancelTick context.CancelFunc
	wg         sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	ticks        int
	lastTick     time.Time
	lastErr      error

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	done         chan struct{}
	doneOnce     sync.Once
	shutdownOnce sync.Once
}

// NewLifecycleManager wires a rig to a cron spec such as "@every 5m".
// closer is closed on shutdown; it is usually the serial link.
func NewLifecycleManager(rig Rig, closer io.Closer, schedule string, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		rig:          rig,
		closer:       closer,
		schedule:     schedule,
		logger:       logger,
		currentState: StateInitializing,
		done:         make(chan struct{}),
	}
}

// Start waits for the device and schedules the ticks. The first tick runs
// right away.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting rig", zap.String("rig", lm.rig.Name()), zap.String("schedule", lm.schedule))
	lm.broadcastStatus()

	if err := lm.rig.Begin(ctx); err != nil {
		err = fmt.Errorf("failed to begin: %w", err)
		lm.setError(err)
		return err
	}

	cronLogger := cronLogger{lm.logger.Sugar()}
	lm.cron = cron.New(cron.WithLogger(cronLogger))
	lm.job = cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(lm.runTick))

	if _, err := lm.cron.AddJob(lm.schedule, lm.job); err != nil {
		err = fmt.Errorf("invalid tick schedule %q: %w", lm.schedule, err)
		lm.setError(err)
		return err
	}

	lm.tickCtx, lm.cancelTick = context.WithCancel(context.Background())

	if err := lm.setState(StateRunning); err != nil {
		lm.cancelTick()
		return err
	}

	lm.cron.Start()

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.job.Run()
	}()

	lm.logger.Info("Rig running", zap.String("rig", lm.rig.Name()))
	return nil
}

func (lm *LifecycleManager) runTick() {
	if lm.State() != StateRunning {
		return
	}

	result, err := lm.rig.Tick(lm.tickCtx)

	lm.stateMu.Lock()
	lm.ticks++
	lm.lastTick = time.Now()
	lm.lastErr = err
	lm.stateMu.Unlock()

	switch {
	case err == nil:
		lm.logger.Debug("Tick finished", zap.Ints("watered", result.Watered))
	case errors.Is(err, context.Canceled):
		lm.logger.Info("Tick cancelled")
	case machine.IsKind(err, machine.KindChannelCountMismatch):
		lm.logger.Error("Channel count mismatch, stopping", zap.Error(err))
		lm.cron.Stop()
		lm.setError(err)
	default:
		lm.logger.Error("Tick failed", zap.Error(err))
	}

	lm.broadcastStatus()
}

// Shutdown stops the schedule, waits for a running tick and closes the
// device. When ctx expires first the tick is cancelled.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down rig", zap.String("rig", lm.rig.Name()))

		_ = lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		_ = lm.setState(StateStopped)
		lm.closeDone()
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		// Stop's context is done once cron-started ticks have returned
		if lm.cron != nil {
			<-lm.cron.Stop().Done()
		}
		lm.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, cancelling tick")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
		lm.stopTicks()
		<-done
	}
	lm.stopTicks()

	if lm.closer != nil {
		if err := lm.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close device: %w", err))
		}
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) stopTicks() {
	if lm.cancelTick != nil {
		lm.cancelTick()
	}
}

// Done is closed once the manager has stopped or failed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.done
}

func (lm *LifecycleManager) closeDone() {
	lm.doneOnce.Do(func() { close(lm.done) })
}

// Err returns the error that moved the manager into the error state.
func (lm *LifecycleManager) Err() error {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	if lm.currentState != StateError {
		return nil
	}
	return lm.lastErr
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Rejected state change", zap.Error(err))
		return err
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	lm.closeDone()
}

func (lm *LifecycleManager) Status() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := SystemStatus{
		State:     lm.currentState,
		Rig:       lm.rig.Name(),
		Ticks:     lm.ticks,
		LastTick:  lm.lastTick,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.Status()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel voll, überspringen
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
