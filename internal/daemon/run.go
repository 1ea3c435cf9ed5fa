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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowmason/flowmason/internal/config"
	"github.com/flowmason/flowmason/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version string
	Commit  string

	// Config overrides
	ConfigPath string
	ListenAddr string
	DBPath     string
}

// shutdownGrace bounds how long a shutdown may take before in-flight
// work is abandoned.
const shutdownGrace = 30 * time.Second

// Run starts the daemon and blocks until shutdown. This is the entry
// point used by `flowmasond serve`.
func Run(opts RunOptions) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		return fmt.Errorf("load config: %w", err)
	}
	if opts.ListenAddr != "" {
		cfg.Listen.Addr = opts.ListenAddr
	}
	if opts.DBPath != "" {
		cfg.DB.Path = opts.DBPath
	}
	if cfg.Log.Level != "" {
		logger = log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format)})
		slog.SetDefault(logger)
	}

	d, err := New(cfg, Options{Version: opts.Version, Commit: opts.Commit}, logger)
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One process-wide signal handler, owned by the trigger manager; it
	// unsubscribes listeners before the server winds down.
	d.triggers.HandleSignals(ctx, cancel)

	if err := d.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
	defer done()
	return d.Shutdown(shutdownCtx)
}
