// Package server coordinates the long-running pieces of the sync
// server: the HTTP listener, the cleanup janitor, and anything else
// that must come up together and drain in reverse order on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a component with a blocking run loop and an idempotent
// stop. Start returns once the service has fully wound down.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a pair of functions into a Service. StopFn may be
// nil for components with nothing to release.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }

func (f *FuncService) Stop() {
	if f.StopFn != nil {
		f.StopFn()
	}
}

// HTTPService runs an http.Server as a managed Service, translating
// the graceful-shutdown handshake into Start and Stop.
type HTTPService struct {
	log     *zap.Logger
	srv     *http.Server
	timeout time.Duration
}

// NewHTTPService wraps srv. timeout bounds how long Stop waits for
// in-flight requests before forcing connections closed.
func NewHTTPService(log *zap.Logger, srv *http.Server, timeout time.Duration) *HTTPService {
	return &HTTPService{log: log, srv: srv, timeout: timeout}
}

// Start serves until Stop is called. A clean shutdown is not an error.
func (s *HTTPService) Start() error {
	s.log.Info("http listener starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests, then closes whatever remains.
func (s *HTTPService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http drain incomplete, closing", zap.Error(err))
		_ = s.srv.Close()
	}
}

type entry struct {
	name string
	svc  Service
}

// Lifecycle starts a set of named services together and stops them in
// reverse registration order on signal, context cancellation, or the
// first service failure.
type Lifecycle struct {
	log     *zap.Logger
	entries []entry
}

func NewLifecycle(log *zap.Logger) *Lifecycle {
	return &Lifecycle{log: log}
}

// Add registers a service. Registration order is start order; stop
// order is the reverse.
//
// Precondition: Run has not been called yet.
func (l *Lifecycle) Add(name string, svc Service) {
	l.entries = append(l.entries, entry{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT or
// SIGTERM arrives, ctx is cancelled, or a service's Start returns an
// error. It then stops all services in reverse order.
//
// Postcondition: Every service's Stop has been called when Run
// returns. The first Start error, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	began := time.Now()
	failed := make(chan error, len(l.entries))

	for _, e := range l.entries {
		e := e
		l.log.Info("service starting", zap.String("service", e.name))
		go func() {
			if err := e.svc.Start(); err != nil {
				failed <- fmt.Errorf("%s: %w", e.name, err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var runErr error
	select {
	case sig := <-sigs:
		l.log.Info("signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		l.log.Info("context cancelled")
	case runErr = <-failed:
		l.log.Error("service failed", zap.Error(runErr))
	}

	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		l.log.Info("service stopping", zap.String("service", e.name))
		e.svc.Stop()
	}

	l.log.Info("shutdown complete", zap.Duration("uptime", time.Since(began)))
	return runErr
}
