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

// Package engine invokes resolved nodes against validated input and maps
// every outcome into the uniform envelope-or-failure shape. It is the only
// caller of a node's Execute, so the validation-before-execution invariant
// is enforced in exactly one place.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine executes general nodes through the registry.
type Engine struct {
	registry *node.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an engine over a frozen registry.
func New(registry *node.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   log.WithComponent(logger, "engine"),
		tracer:   otel.Tracer("flowmason/engine"),
	}
}

// Execute resolves nodeType, re-validates the request, and performs the
// node's single unit of work. Unknown types are KindNotFound; they are a
// deployment bug, logged at error level.
func (e *Engine) Execute(ctx context.Context, nodeType string, req node.Request) result.Result[node.Envelope] {
	return e.run(ctx, nodeType, req, false)
}

// Test runs the node's dry-run path. It shares everything with Execute
// except the final dispatch, which goes to the node's Test method; node
// implementations keep the two behaviorally identical.
func (e *Engine) Test(ctx context.Context, nodeType string, req node.Request) result.Result[node.Envelope] {
	return e.run(ctx, nodeType, req, true)
}

func (e *Engine) run(ctx context.Context, nodeType string, req node.Request, dry bool) result.Result[node.Envelope] {
	ctx, span := e.tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.type", nodeType),
			attribute.Bool("node.dry_run", dry),
		))
	defer span.End()

	start := time.Now()

	resolved := e.registry.ResolveGeneral(nodeType)
	if resolved.IsErr() {
		f := resolved.Failure()
		if f.Kind == result.KindNotFound {
			e.logger.Error("unknown node type requested",
				slog.String(log.NodeTypeKey, nodeType))
		}
		return e.finish(span, nodeType, start, nil, result.Forward[node.Envelope](resolved, "engine.run"))
	}
	n := resolved.Value()

	// Sensitive config values must never reach a log line verbatim.
	redacted := log.RedactConfig(n.ConfigFields(), req.Config)

	// Defense in depth: validate here even though every node re-validates
	// internally, so a broken caller cannot reach a node with raw input.
	validated := node.ValidateRequest(n, req)
	if validated.IsErr() {
		return e.finish(span, nodeType, start, redacted, result.Forward[node.Envelope](validated, "engine.run"))
	}

	var res result.Result[node.Envelope]
	if dry {
		res = n.Test(ctx, validated.Value())
	} else {
		res = n.Execute(ctx, validated.Value())
	}
	if res.IsErr() {
		res = result.Forward[node.Envelope](res, "engine.run")
	}
	return e.finish(span, nodeType, start, redacted, res)
}

func (e *Engine) finish(span trace.Span, nodeType string, start time.Time, config map[string]string, res result.Result[node.Envelope]) result.Result[node.Envelope] {
	elapsed := time.Since(start)
	executionDuration.WithLabelValues(nodeType).Observe(elapsed.Seconds())

	if res.IsErr() {
		f := res.Failure()
		executionsTotal.WithLabelValues(nodeType, string(f.Kind)).Inc()
		span.SetStatus(codes.Error, f.Err)
		e.logger.Warn("node execution failed",
			slog.String(log.NodeTypeKey, nodeType),
			slog.String("kind", string(f.Kind)),
			slog.String("error", f.Err),
			slog.Any("trace", f.Trace),
			slog.Any("config", config),
			slog.Int64(log.DurationKey, elapsed.Milliseconds()))
		return res
	}

	executionsTotal.WithLabelValues(nodeType, "success").Inc()
	e.logger.Debug("node executed",
		slog.String(log.NodeTypeKey, nodeType),
		slog.Int64(log.DurationKey, elapsed.Milliseconds()))
	return res
}
