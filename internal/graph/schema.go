// Package graph exposes the coordinator as a GraphQL API.
package graph

import (
	"context"
	_ "embed"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/coordinator"
)

//go:embed schema.graphql
var SDL string

// NewSchema parses the SDL against a resolver backed by svc.
func NewSchema(svc *coordinator.Coordinator, log *zap.Logger) *graphql.Schema {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("graphql")
	return graphql.MustParseSchema(SDL, &Resolver{svc: svc, log: log},
		graphql.MaxDepth(12),
		graphql.Logger(panicLogger{log: log}),
	)
}

type panicLogger struct {
	log *zap.Logger
}

func (l panicLogger) LogPanic(_ context.Context, value interface{}) {
	l.log.Error("resolver panic", zap.Any("panic", value), zap.Stack("stack"))
}

type viewerKey struct{}

// WithViewer records the identity of the connected client. Mutations that
// take no explicit user id act on its behalf.
func WithViewer(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, viewerKey{}, userID)
}

func ViewerFrom(ctx context.Context) string {
	id, _ := ctx.Value(viewerKey{}).(string)
	return id
}

// actor prefers an explicit argument over the connection's viewer.
func actor(ctx context.Context, explicit *graphql.ID) string {
	if explicit != nil && *explicit != "" {
		return string(*explicit)
	}
	return ViewerFrom(ctx)
}
