package provider

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	plexus "github.com/plexushq/plexus/internal"
)

// Invoker dispatches a resolved route to the matching provider client.
// It performs exactly one upstream attempt per call; retry and fallback
// policy belong to the caller.
type Invoker struct {
	cache  *Cache
	tracer trace.Tracer
}

// NewInvoker creates an Invoker over the given client cache.
func NewInvoker(cache *Cache) *Invoker {
	return &Invoker{
		cache:  cache,
		tracer: otel.Tracer("plexus/provider"),
	}
}

// Generate performs one non-streaming completion against the routed target.
func (inv *Invoker) Generate(ctx context.Context, route plexus.RouteDecision, req *plexus.UnifiedRequest) (*plexus.UnifiedResponse, error) {
	ctx, span := inv.startSpan(ctx, "provider.generate", route)
	defer span.End()

	client, err := inv.cache.Get(ctx, route.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp, err := client.Generate(ctx, req, route.Model)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("provider %q: %w", route.ProviderID, err)
	}
	return resp, nil
}

// Stream opens one streaming completion against the routed target. A non-nil
// error means the upstream rejected the request before producing any stream
// bytes; the caller may still fall back to another target.
func (inv *Invoker) Stream(ctx context.Context, route plexus.RouteDecision, req *plexus.UnifiedRequest) (<-chan plexus.StreamChunk, error) {
	ctx, span := inv.startSpan(ctx, "provider.stream", route)
	defer span.End()

	client, err := inv.cache.Get(ctx, route.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ch, err := client.Stream(ctx, req, route.Model)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("provider %q: %w", route.ProviderID, err)
	}
	return ch, nil
}

func (inv *Invoker) startSpan(ctx context.Context, name string, route plexus.RouteDecision) (context.Context, trace.Span) {
	return inv.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("plexus.provider", route.ProviderID),
		attribute.String("plexus.model", route.Model),
		attribute.String("plexus.alias", route.Alias),
	))
}
