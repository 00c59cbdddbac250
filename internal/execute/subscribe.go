package execute

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Subscribe implements the "Subscribe" algorithm of GraphQL.
//
// Each event of the root field's source stream is executed as the root value
// of the operation and sent as one response. The returned channel is closed
// when the source stream ends or ctx is done.
func Subscribe(ctx context.Context, args *ExecutionArgs) (<-chan *graphql.Response, gqlerror.List) {
	if gErr := assertValidExecutionArguments(args); gErr != nil {
		return nil, gqlerror.List{gErr}
	}

	exeContext, gErrs := buildExecutionContext(args)
	if len(gErrs) != 0 {
		return nil, gErrs
	}

	sourceStream, gErr := createSourceEventStream(ctx, exeContext)
	if gErr != nil {
		return nil, gqlerror.List{gErr}
	}

	responses := make(chan *graphql.Response)
	go func() {
		defer close(responses)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sourceStream:
				if !ok {
					return
				}
				resp := mapSourceToResponse(ctx, exeContext, event)
				select {
				case responses <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return responses, nil
}

func createSourceEventStream(ctx context.Context, exeContext *ExecutionContext) (<-chan any, *gqlerror.Error) {
	operation := exeContext.Operation
	if operation.Operation != ast.Subscription {
		return nil, gqlerror.ErrorPosf(operation.Position, "operation %q is not a subscription", operation.Name)
	}
	typ, gErr := rootTypeOf(exeContext, operation)
	if gErr != nil {
		return nil, gErr
	}

	fields := collectFields(exeContext, typ, operation.SelectionSet, &Fields{}, make(map[string]struct{}))
	if len(fields.Names) == 0 {
		return nil, gqlerror.ErrorPosf(operation.Position, "subscription must select one top level field")
	}
	responseName := fields.Names[0]
	fieldNodes := fields.FieldMap[responseName]
	fieldNode := fieldNodes[0]
	path := ast.Path{ast.PathName(responseName)}

	fieldDef := getFieldDef(typ, fieldNode)
	if fieldDef == nil {
		return nil, locatedErrorf(fieldNode, path, `the subscription field "%s" is not defined`, fieldNode.Name)
	}

	subscribeFn := exeContext.Subscribers[fieldNode.Name]
	if subscribeFn == nil {
		return nil, locatedErrorf(fieldNode, path, `no subscriber registered for field "%s"`, fieldNode.Name)
	}

	node := *fieldNode
	node.Definition = fieldDef
	stream, err := subscribeFn(ctx, ResolveParams{
		Source: exeContext.RootValue,
		Args:   node.ArgumentMap(exeContext.VariableValues),
		Info: ResolveInfo{
			FieldName:  fieldNode.Name,
			ParentType: typ,
			ReturnType: fieldDef.Type,
			Path:       path,
			Field:      fieldNode,
			Schema:     exeContext.Schema,
		},
	})
	if err != nil {
		return nil, locatedError(ctx, exeContext, err, fieldNode, path)
	}
	return stream, nil
}

// mapSourceToResponse executes the operation once with event as root value.
func mapSourceToResponse(ctx context.Context, exeContext *ExecutionContext, event any) *graphql.Response {
	eventContext := exeContext.fork(event)
	data := executeOperation(ctx, eventContext, eventContext.Operation, event)
	return buildResponse(eventContext, data)
}
