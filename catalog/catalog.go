// Package catalog serves the library schema as a gqlgen
// graphql.ExecutableSchema, so any gqlgen transport can host it.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel/trace"

	"github.com/vvakame/libraryql/internal/execute"
	"github.com/vvakame/libraryql/internal/graph"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/tracing"
)

var _ graphql.ExecutableSchema = (*ExecutableSchema)(nil)

type Config struct {
	graph.Config

	// Middleware wraps every explicit resolver, outermost first. Optional.
	Middleware []execute.FieldMiddleware
	// Tracer adds a span per resolver call when set.
	Tracer trace.Tracer
}

type ExecutableSchema struct {
	schema      *ast.Schema
	resolvers   execute.ResolverMap
	subscribers execute.SubscriberMap
	middleware  []execute.FieldMiddleware
}

func New(ctx context.Context, cfg *Config) (*ExecutableSchema, error) {
	if cfg == nil {
		return nil, fmt.Errorf("catalog config is required")
	}

	schema, err := graph.LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	resolver, err := graph.NewResolver(cfg.Config)
	if err != nil {
		return nil, err
	}

	middleware := append([]execute.FieldMiddleware(nil), cfg.Middleware...)
	if cfg.Tracer != nil {
		middleware = append(middleware, tracing.FieldMiddleware(cfg.Tracer))
	}

	log.FromContext(ctx).V(1).Info("catalog schema loaded", "types", len(schema.Types))

	return &ExecutableSchema{
		schema:      schema,
		resolvers:   resolver.Resolvers(),
		subscribers: resolver.Subscribers(),
		middleware:  middleware,
	}, nil
}

func (es *ExecutableSchema) Schema() *ast.Schema {
	return es.schema
}

// Complexity weighs the list fields by an assumed page of items; everything
// else gets gqlgen's default of childComplexity + 1.
func (es *ExecutableSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	switch typeName + "." + fieldName {
	case "Query.allBooks", "Query.allAuthors":
		return 1 + listWeight*childComplexity, true
	}
	return 0, false
}

const listWeight = 10

func (es *ExecutableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)

	args := &execute.ExecutionArgs{
		Schema:               es.schema,
		Document:             oc.Doc,
		Operation:            oc.Operation,
		OperationName:        oc.OperationName,
		VariableValues:       oc.Variables,
		VariablesCoerced:     true,
		Resolvers:            es.resolvers,
		Subscribers:          es.subscribers,
		Middleware:           es.middleware,
		ErrorPresenter:       graph.ErrorPresenter,
		DisableIntrospection: oc.DisableIntrospection,
	}

	if oc.Operation != nil && oc.Operation.Operation == ast.Subscription {
		return es.subscribe(ctx, args)
	}

	resp, gErr := execute.Execute(ctx, args)
	if gErr != nil {
		return oneShot(&graphql.Response{Errors: gqlerror.List{gErr}})
	}
	return oneShot(resp)
}

func (es *ExecutableSchema) subscribe(ctx context.Context, args *execute.ExecutionArgs) graphql.ResponseHandler {
	stream, gErrs := execute.Subscribe(ctx, args)
	if len(gErrs) != 0 {
		return oneShot(&graphql.Response{Errors: gErrs})
	}

	return func(ctx context.Context) *graphql.Response {
		select {
		case resp, ok := <-stream:
			if !ok {
				return nil
			}
			return resp
		case <-ctx.Done():
			return nil
		}
	}
}

// oneShot returns resp on the first call and nil afterwards, which ends a
// gqlgen response stream.
func oneShot(resp *graphql.Response) graphql.ResponseHandler {
	var once sync.Once
	return func(ctx context.Context) *graphql.Response {
		var out *graphql.Response
		once.Do(func() {
			out = resp
		})
		return out
	}
}
