package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// shutdownStep releases one resource after the HTTP server has drained.
type shutdownStep struct {
	name string
	run  func() error
}

// serveHTTPServer serves until SIGINT or SIGTERM, drains in-flight requests
// and then runs steps in order.
func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, steps ...shutdownStep) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil, steps)
}

// serveHTTPServerWithOptions is serveHTTPServer with an injectable listener
// and signal channel. Steps run whether serving ended by signal or by error.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal, steps []shutdownStep) error {
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	if signalCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signalCh = ch
	}

	var err error
	select {
	case err = <-serveErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	case sig, ok := <-signalCh:
		if ok {
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		}
		err = drain(server, shutdownTimeout, serveErr)
	}

	return errors.Join(err, runShutdown(steps, logger))
}

// drain stops accepting connections and waits for in-flight requests.
func drain(server *http.Server, timeout time.Duration, serveErr <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-serveErr
}

func runShutdown(steps []shutdownStep, logger *zap.Logger) error {
	var errs []error
	for _, step := range steps {
		if err := step.run(); err != nil {
			logger.Error("shutdown step failed", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		logger.Debug("shutdown step done", zap.String("step", step.name))
	}
	return errors.Join(errs...)
}
