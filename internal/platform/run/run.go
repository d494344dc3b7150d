package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds Graceful when the Runner has no timeout set.
const DefaultShutdownTimeout = 10 * time.Second

type Runner struct {
	Logger *zap.Logger
	// ShutdownTimeout bounds both the shutdown callback and the wait for
	// start to return once a signal arrives.
	ShutdownTimeout time.Duration

	notify func(context.Context) (context.Context, context.CancelFunc)
}

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Logger:          log,
		ShutdownTimeout: DefaultShutdownTimeout,
		notify: func(parent context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
		},
	}
}

func (r *Runner) timeout() time.Duration {
	if r.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return r.ShutdownTimeout
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives. After a
// signal it waits up to ShutdownTimeout for start to finish draining.
func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := r.notify(context.Background())
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		select {
		case err := <-errCh:
			return r.code(err)
		case <-time.After(r.timeout()):
			r.Logger.Warn("shutdown timed out", zap.Duration("timeout", r.timeout()))
			return 1
		}
	case err := <-errCh:
		return r.code(err)
	}
}

func (r *Runner) code(err error) int {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return 0
	}
	r.Logger.Error("service exited with error", zap.Error(err))
	return 1
}

// Graceful calls shutdown with a fresh context bounded by ShutdownTimeout;
// ctx is the already-cancelled signal context and is not reused.
func (r *Runner) Graceful(ctx context.Context, shutdown func(context.Context) error) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
	defer cancel()
	if err := shutdown(c); err != nil {
		r.Logger.Warn("graceful shutdown", zap.Error(err))
	}
}

func Exit(code int) {
	os.Exit(code)
}
