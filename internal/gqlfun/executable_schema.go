// Package gqlfun runs a graphql.ExecutableSchema in-process, without an HTTP
// transport in between. Seeding and tests use it.
package gqlfun

import (
	"context"
	"errors"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// CreateOperationContext parses and validates query against schema and
// coerces variables the way gqlgen's executor does.
func CreateOperationContext(ctx context.Context, schema *ast.Schema, query string, variables map[string]any) (*graphql.OperationContext, gqlerror.List) {
	queryDoc, gErr := parser.ParseQuery(&ast.Source{
		Input:   query,
		BuiltIn: false,
	})
	if gErr != nil {
		return nil, gqlerror.List{asGQLError(gErr)}
	}
	gErrs := validator.Validate(schema, queryDoc)
	if len(gErrs) != 0 {
		return nil, gErrs
	}
	if len(queryDoc.Operations) != 1 {
		return nil, gqlerror.List{gqlerror.Errorf("document must contain exactly one operation")}
	}
	operation := queryDoc.Operations[0]

	coerced, err := validator.VariableValues(schema, operation, variables)
	if err != nil {
		return nil, gqlerror.List{asGQLError(err)}
	}

	oc := &graphql.OperationContext{
		RawQuery:      query,
		Variables:     coerced,
		OperationName: operation.Name,
		Doc:           queryDoc,
		Operation:     operation,
		ResolverMiddleware: func(ctx context.Context, next graphql.Resolver) (res any, err error) {
			return next(ctx)
		},
		RootResolverMiddleware: func(ctx context.Context, next graphql.RootResolver) graphql.Marshaler {
			return next(ctx)
		},
		Stats: graphql.Stats{},
	}

	return oc, nil
}

// Execute runs a query or mutation and returns its single response.
func Execute(ctx context.Context, es graphql.ExecutableSchema, query string, variables map[string]any) *graphql.Response {
	rh, gErrs := dispatch(ctx, es, query, variables)
	if len(gErrs) != 0 {
		return &graphql.Response{Errors: gErrs}
	}
	return rh(ctx)
}

// Subscribe starts a subscription. Each call of the returned handler blocks
// for the next event; nil means the stream ended.
func Subscribe(ctx context.Context, es graphql.ExecutableSchema, query string, variables map[string]any) (graphql.ResponseHandler, gqlerror.List) {
	return dispatch(ctx, es, query, variables)
}

func dispatch(ctx context.Context, es graphql.ExecutableSchema, query string, variables map[string]any) (graphql.ResponseHandler, gqlerror.List) {
	oc, gErrs := CreateOperationContext(ctx, es.Schema(), query, variables)
	if len(gErrs) != 0 {
		return nil, gErrs
	}
	ctx = graphql.WithOperationContext(ctx, oc)
	ctx = graphql.WithResponseContext(ctx, graphql.DefaultErrorPresenter, graphql.DefaultRecover)

	rh := es.Exec(ctx)
	if gErrs := graphql.GetErrors(ctx); len(gErrs) != 0 {
		return nil, gErrs
	}
	return rh, nil
}

func asGQLError(err error) *gqlerror.Error {
	var gErr *gqlerror.Error
	if errors.As(err, &gErr) {
		return gErr
	}
	return gqlerror.Errorf("%s", err.Error())
}
