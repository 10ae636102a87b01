// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// defaultShutdownTimeout bounds the drain of in-flight deliveries
// after the context is cancelled. GitHub gives a webhook 10 seconds
// to respond, so anything still running past that is already lost.
const defaultShutdownTimeout = 10 * time.Second

// HTTPServer runs the webhook endpoint on a TCP listener: bind,
// serve, and drain on shutdown. Routing and signature verification
// belong to the Handler it is given.
type HTTPServer struct {
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready closes once the listener is bound; addr is valid from
	// that point on.
	ready chan struct{}
	addr  net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address ("host:port"). Required.
	Address string

	// Handler serves each request. Required.
	Handler http.Handler

	// ShutdownTimeout overrides the drain deadline. Zero means
	// defaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewHTTPServer creates a server for the given address and handler.
// Nothing listens until Serve is called.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("webhook.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("webhook.HTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("webhook.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}

	return &HTTPServer{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the listener is bound and accepting.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listen address, valid after Ready closes. When
// the configured port is 0 this carries the port the OS picked.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and accepts connections until ctx is
// cancelled, then drains in-flight requests up to the shutdown
// timeout. A bind failure is returned immediately, before Ready
// closes — the caller can treat Ready-vs-error as its startup gate.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Webhook payloads are small; these timeouts exist to shed
		// slow-loris connections, not to accommodate real traffic.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server listening", "address", s.addr.String())

	failed := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		// Serve returned on its own: either an accept error, or a
		// clean close that nothing here requested.
		return err
	case <-ctx.Done():
	}

	s.logger.Info("webhook server shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("webhook server shutdown: %w", err)
	}

	s.logger.Info("webhook server stopped")
	return nil
}
