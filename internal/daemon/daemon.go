// Copyright 2026 The Flowmason Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon wires the stores, registry, engine, trigger manager and
// queues into one process and serves the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flowmason/flowmason/internal/config"
	"github.com/flowmason/flowmason/internal/dispatch"
	"github.com/flowmason/flowmason/internal/engine"
	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/internal/nodes"
	"github.com/flowmason/flowmason/internal/store"
	"github.com/flowmason/flowmason/internal/trigger"
	"github.com/flowmason/flowmason/internal/writeback"
	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options contains daemon options set at build time.
type Options struct {
	Version string
	Commit  string
}

// Daemon is the flowmasond process: one HTTP server plus the background
// workers behind it.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	db         *store.DB
	registry   *node.Registry
	engine     *engine.Engine
	workflows  workflow.Store
	triggers   *trigger.Manager
	dispatcher *dispatch.Dispatcher
	writeback  *writeback.Worker

	server *http.Server
	ln     net.Listener
}

// New builds a daemon from configuration. Nothing starts running until
// Start.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Daemon, error) {
	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: log.WithComponent(logger, "daemon"),
		db:     db,
	}

	d.workflows = store.NewWorkflowStore(db)
	d.writeback = writeback.NewWorker(d.workflows, logger)

	d.registry = node.NewRegistry()
	d.engine = engine.New(d.registry, logger)
	d.dispatcher = dispatch.New(d.engine, d.registry, d.workflows, d.writeback, logger)

	if err := nodes.RegisterBuiltins(d.registry, d.dispatcher); err != nil {
		db.Close()
		return nil, fmt.Errorf("register nodes: %w", err)
	}

	d.triggers = trigger.NewManager(d.registry, store.NewTriggerStore(db), d.workflows, logger)

	d.server = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Start binds the listener, launches the workers, replays persisted
// trigger registrations, and serves until the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Listen.Addr, err)
	}
	d.ln = ln

	d.writeback.Start(ctx)
	d.dispatcher.Start(ctx)
	d.triggers.Reconcile(ctx)

	d.logger.Info("daemon listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", d.opts.Version))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the daemon in dependency order: no new requests, then
// listeners unsubscribed (records kept for the next boot), then the run
// queue drained, then pending writes flushed, then the database closed.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := d.server.Shutdown(ctx); err != nil {
		firstErr = err
	}

	d.triggers.StopAllOnShutdown(ctx)
	d.dispatcher.Close()
	d.writeback.Close()

	if err := d.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.logger.Info("daemon stopped")
	return firstErr
}

// Addr returns the bound listen address, valid after Start.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/nodes", d.handleListNodes)
	mux.HandleFunc("POST /v1/nodes/{type}/execute", d.handleExecuteNode)
	mux.HandleFunc("POST /v1/nodes/{type}/test", d.handleTestNode)

	mux.HandleFunc("POST /v1/workflows", d.handleCreateWorkflow)
	mux.HandleFunc("GET /v1/workflows/{id}", d.handleGetWorkflow)
	mux.HandleFunc("PATCH /v1/workflows/{id}", d.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /v1/workflows/{id}", d.handleDeleteWorkflow)

	mux.HandleFunc("POST /v1/workflows/{id}/triggers/{node}/start", d.handleStartTrigger)
	mux.HandleFunc("POST /v1/workflows/{id}/triggers/{node}/stop", d.handleStopTrigger)

	mux.HandleFunc("POST /hooks/{workflow}", d.handleHook)

	return mux
}
