/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// tracerKey is the context key for storing values of type T
type tracerKey[T any] struct{}

// Tracer is the interface for creating and managing traces
type Tracer[T any] interface {
	// NewTrace creates a new trace with the given prompt
	NewTrace(ctx context.Context, prompt string) *Trace[T]
	// RecordTrace records a completed trace
	RecordTrace(trace *Trace[T])
}

// WithTracer returns a new context with the given tracer
func WithTracer[T any](ctx context.Context, tracer Tracer[T]) context.Context {
	return context.WithValue(ctx, tracerKey[T]{}, tracer)
}

// TracerFromContext returns the tracer from the context, or creates a default tracer
func TracerFromContext[T any](ctx context.Context) Tracer[T] {
	if tracer, ok := ctx.Value(tracerKey[T]{}).(Tracer[T]); ok {
		return tracer
	}
	return NewDefaultTracer[T](ctx)
}

// StartTrace starts a new trace using the tracer from the context
func StartTrace[T any](ctx context.Context, prompt string) *Trace[T] {
	tracer := TracerFromContext[T](ctx)
	return tracer.NewTrace(ctx, prompt)
}

// TraceCallback is a function that receives completed traces
type TraceCallback[T any] func(*Trace[T])

// byCodeTracer implements Tracer by invoking callback functions directly
type byCodeTracer[T any] struct {
	callbacks []TraceCallback[T]
}

// ByCode creates a new Tracer that invokes the given callbacks when traces are recorded.
// Used by the orchestrator to fold LLM reasoning into audit entry details.
func ByCode[T any](callbacks ...TraceCallback[T]) Tracer[T] {
	return &byCodeTracer[T]{callbacks: callbacks}
}

// NewTrace creates a new trace with the given prompt
func (t *byCodeTracer[T]) NewTrace(ctx context.Context, prompt string) *Trace[T] {
	return newTraceWithTracer[T](ctx, t, prompt)
}

// RecordTrace invokes all callbacks with the completed trace in parallel
func (t *byCodeTracer[T]) RecordTrace(trace *Trace[T]) {
	g := new(errgroup.Group)
	for _, callback := range t.callbacks {
		if callback != nil {
			g.Go(func() error {
				callback(trace)
				return nil
			})
		}
	}
	_ = g.Wait()
}
