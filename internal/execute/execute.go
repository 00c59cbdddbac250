package execute

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/utils"
)

// ExecutionContext holds the state shared by every field of one operation.
type ExecutionContext struct {
	Schema               *ast.Schema
	Fragments            ast.FragmentDefinitionList
	RootValue            any
	Operation            *ast.OperationDefinition
	VariableValues       map[string]any
	Resolvers            ResolverMap
	Subscribers          SubscriberMap
	FieldResolver        FieldResolveFn
	TypeResolver         TypeResolver
	Middleware           []FieldMiddleware
	ErrorPresenter       ErrorPresenter
	DisableIntrospection bool

	mu     sync.Mutex
	errors gqlerror.List
}

type ExecutionArgs struct {
	Schema   *ast.Schema
	Document *ast.QueryDocument
	// Operation, when set, is executed instead of looking up OperationName.
	Operation      *ast.OperationDefinition
	OperationName  string         // optional
	RootValue      any            // optional
	VariableValues map[string]any // optional
	// VariablesCoerced reports VariableValues were already coerced against
	// the operation, e.g. by gqlgen's executor.
	VariablesCoerced     bool
	Resolvers            ResolverMap
	Subscribers          SubscriberMap
	FieldResolver        FieldResolveFn    // optional
	TypeResolver         TypeResolver      // optional
	Middleware           []FieldMiddleware // optional
	ErrorPresenter       ErrorPresenter    // optional
	DisableIntrospection bool
}

// ResolveInfo describes the field being resolved.
type ResolveInfo struct {
	FieldName  string
	ParentType *ast.Definition
	ReturnType *ast.Type
	Path       ast.Path
	Field      *ast.Field
	Schema     *ast.Schema
}

type ResolveParams struct {
	Source any
	Args   map[string]any
	Info   ResolveInfo
}

type FieldResolveFn func(ctx context.Context, p ResolveParams) (any, error)

// SubscribeFn returns the event stream of one subscription root field.
// The channel must be closed when ctx is done.
type SubscribeFn func(ctx context.Context, p ResolveParams) (<-chan any, error)

// ResolverMap is keyed by type name, then field name.
type ResolverMap map[string]map[string]FieldResolveFn

// SubscriberMap is keyed by subscription field name.
type SubscriberMap map[string]SubscribeFn

// FieldMiddleware wraps every resolver found in a ResolverMap.
type FieldMiddleware func(ctx context.Context, p ResolveParams, next FieldResolveFn) (any, error)

// ErrorPresenter converts a resolver error into the error sent to clients.
type ErrorPresenter func(ctx context.Context, err error) *gqlerror.Error

type TypeResolver func(ctx context.Context, value any, schema *ast.Schema, abstractType *ast.Definition) string

var _ FieldResolveFn = DefaultFieldResolver
var _ TypeResolver = DefaultTypeResolver

// Execute implements the "Executing requests" algorithm of GraphQL.
//
// Field errors are collected into the response; a non-nil *gqlerror.Error is
// returned only for improper use of this function.
func Execute(ctx context.Context, args *ExecutionArgs) (*graphql.Response, *gqlerror.Error) {
	// If arguments are missing or incorrect, throw an error.
	gErr := assertValidExecutionArguments(args)
	if gErr != nil {
		return nil, gErr
	}

	// If a valid execution context cannot be created due to incorrect arguments,
	// a "Response" with only errors is returned.
	exeContext, gErrs := buildExecutionContext(args)
	if len(gErrs) != 0 {
		return &graphql.Response{
			Errors: gErrs,
		}, nil
	}

	// If errors are encountered while executing a GraphQL field, only that
	// field and its descendants will be omitted, and sibling fields will still
	// be executed.
	data := executeOperation(ctx, exeContext, exeContext.Operation, exeContext.RootValue)
	return buildResponse(exeContext, data), nil
}

func buildResponse(exeContext *ExecutionContext, data graphql.Marshaler) *graphql.Response {
	var buf bytes.Buffer
	data.MarshalGQL(&buf)

	return &graphql.Response{
		Errors: exeContext.Errors(),
		Data:   buf.Bytes(),
	}
}

// Essential assertions before executing to provide developer feedback for
// improper use of the GraphQL library.
func assertValidExecutionArguments(args *ExecutionArgs) *gqlerror.Error {
	if args == nil {
		return gqlerror.Errorf("must provide execution args")
	}
	if args.Schema == nil {
		return gqlerror.Errorf("must provide schema")
	}
	if args.Document == nil && args.Operation == nil {
		return gqlerror.Errorf("must provide document")
	}
	return nil
}

func buildExecutionContext(args *ExecutionArgs) (*ExecutionContext, gqlerror.List) {
	var fragments ast.FragmentDefinitionList
	if args.Document != nil {
		fragments = args.Document.Fragments
	}

	operation := args.Operation
	if operation == nil {
		operation = args.Document.Operations.ForName(args.OperationName)
	}
	if operation == nil {
		if args.OperationName != "" {
			return nil, gqlerror.List{gqlerror.Errorf(`unknown operation named "%s"`, args.OperationName)}
		}
		return nil, gqlerror.List{gqlerror.Errorf("must provide an operation")}
	}

	variableValues := args.VariableValues
	if !args.VariablesCoerced {
		coerced, err := validator.VariableValues(args.Schema, operation, args.VariableValues)
		if err != nil {
			return nil, gqlerror.List{toGQLError(err)}
		}
		variableValues = coerced
	}
	if variableValues == nil {
		variableValues = map[string]any{}
	}

	fieldResolver := args.FieldResolver
	if fieldResolver == nil {
		fieldResolver = DefaultFieldResolver
	}
	typeResolver := args.TypeResolver
	if typeResolver == nil {
		typeResolver = DefaultTypeResolver
	}

	return &ExecutionContext{
		Schema:               args.Schema,
		Fragments:            fragments,
		RootValue:            args.RootValue,
		Operation:            operation,
		VariableValues:       variableValues,
		Resolvers:            args.Resolvers,
		Subscribers:          args.Subscribers,
		FieldResolver:        fieldResolver,
		TypeResolver:         typeResolver,
		Middleware:           args.Middleware,
		ErrorPresenter:       args.ErrorPresenter,
		DisableIntrospection: args.DisableIntrospection,
	}, nil
}

// Errors returns the field errors recorded so far, ordered by path.
func (exeContext *ExecutionContext) Errors() gqlerror.List {
	exeContext.mu.Lock()
	defer exeContext.mu.Unlock()

	if len(exeContext.errors) == 0 {
		return nil
	}
	list := make(gqlerror.List, len(exeContext.errors))
	copy(list, exeContext.errors)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Path.String() < list[j].Path.String()
	})
	return list
}

func (exeContext *ExecutionContext) addError(gErr *gqlerror.Error) {
	exeContext.mu.Lock()
	defer exeContext.mu.Unlock()
	exeContext.errors = append(exeContext.errors, gErr)
}

// fork returns a context sharing everything but the recorded errors.
func (exeContext *ExecutionContext) fork(rootValue any) *ExecutionContext {
	return &ExecutionContext{
		Schema:               exeContext.Schema,
		Fragments:            exeContext.Fragments,
		RootValue:            rootValue,
		Operation:            exeContext.Operation,
		VariableValues:       exeContext.VariableValues,
		Resolvers:            exeContext.Resolvers,
		Subscribers:          exeContext.Subscribers,
		FieldResolver:        exeContext.FieldResolver,
		TypeResolver:         exeContext.TypeResolver,
		Middleware:           exeContext.Middleware,
		ErrorPresenter:       exeContext.ErrorPresenter,
		DisableIntrospection: exeContext.DisableIntrospection,
	}
}

func rootTypeOf(exeContext *ExecutionContext, operation *ast.OperationDefinition) (*ast.Definition, *gqlerror.Error) {
	switch operation.Operation {
	case ast.Query, "":
		if queryType := exeContext.Schema.Query; queryType != nil {
			return queryType, nil
		}
		return nil, gqlerror.ErrorPosf(operation.Position, "schema does not define the required query root type")
	case ast.Mutation:
		if mutationType := exeContext.Schema.Mutation; mutationType != nil {
			return mutationType, nil
		}
		return nil, gqlerror.ErrorPosf(operation.Position, "schema is not configured for mutations")
	case ast.Subscription:
		if subscriptionType := exeContext.Schema.Subscription; subscriptionType != nil {
			return subscriptionType, nil
		}
		return nil, gqlerror.ErrorPosf(operation.Position, "schema is not configured for subscriptions")
	default:
		return nil, gqlerror.ErrorPosf(operation.Position, "can only have query, mutation and subscription operations")
	}
}

// executeOperation runs the root selection set of operation.
func executeOperation(ctx context.Context, exeContext *ExecutionContext, operation *ast.OperationDefinition, rootValue any) graphql.Marshaler {
	typ, gErr := rootTypeOf(exeContext, operation)
	if gErr != nil {
		exeContext.addError(gErr)
		return graphql.Null
	}

	fields := collectFields(exeContext, typ, operation.SelectionSet, &Fields{}, make(map[string]struct{}))

	// Errors from sub-fields of a NonNull type may propagate to the top level,
	// at which point we still log the error and null the parent field, which
	// in this case is the entire response.
	var result graphql.Marshaler
	if operation.Operation == ast.Mutation {
		result, gErr = executeFieldsSerially(ctx, exeContext, typ, rootValue, nil, fields)
	} else {
		result, gErr = executeFields(ctx, exeContext, typ, rootValue, nil, fields)
	}
	if gErr != nil {
		exeContext.addError(gErr)
		return graphql.Null
	}

	return result
}

// executeFieldsSerially resolves fields one after another, for mutations.
func executeFieldsSerially(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue any, path ast.Path, fields *Fields) (graphql.Marshaler, *gqlerror.Error) {
	out := newResultObject(fields.Names)
	for i, name := range fields.Names {
		data, gErr := executeField(ctx, exeContext, parentType, sourceValue, fields.FieldMap[name], appendPath(path, ast.PathName(name)))
		if gErr != nil {
			return nil, gErr
		}
		out.values[i] = data
	}
	return out, nil
}

// executeFields resolves sibling fields concurrently.
func executeFields(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, sourceValue any, path ast.Path, fields *Fields) (graphql.Marshaler, *gqlerror.Error) {
	if len(fields.Names) < 2 {
		return executeFieldsSerially(ctx, exeContext, parentType, sourceValue, path, fields)
	}

	out := newResultObject(fields.Names)

	gErrs := make([]*gqlerror.Error, len(fields.Names))
	var wg sync.WaitGroup
	wg.Add(len(fields.Names))
	for i, name := range fields.Names {
		go func(i int, name string) {
			defer wg.Done()
			out.values[i], gErrs[i] = executeField(ctx, exeContext, parentType, sourceValue, fields.FieldMap[name], appendPath(path, ast.PathName(name)))
		}(i, name)
	}
	wg.Wait()

	for _, gErr := range gErrs {
		if gErr != nil {
			return nil, gErr
		}
	}
	return out, nil
}

// executeField resolves one response key and completes its value.
//
// A non-nil error means the field is non-nullable and its parent must become
// null instead; nullable fields record their error and complete to null.
func executeField(ctx context.Context, exeContext *ExecutionContext, parentType *ast.Definition, source any, fieldNodes []*ast.Field, path ast.Path) (graphql.Marshaler, *gqlerror.Error) {
	fieldNode := fieldNodes[0]
	fieldName := fieldNode.Name

	if fieldName == "__typename" {
		return graphql.MarshalString(parentType.Name), nil
	}

	fieldDef := getFieldDef(parentType, fieldNode)
	if fieldDef == nil {
		// Validation rejects unknown fields, so this only skips them.
		return graphql.Null, nil
	}
	returnType := fieldDef.Type

	if exeContext.DisableIntrospection && parentType == exeContext.Schema.Query &&
		(fieldName == "__schema" || fieldName == "__type") {
		return handleFieldError(exeContext, locatedErrorf(fieldNode, path, "introspection disabled"), returnType)
	}

	node := *fieldNode
	node.Definition = fieldDef
	params := ResolveParams{
		Source: source,
		Args:   node.ArgumentMap(exeContext.VariableValues),
		Info: ResolveInfo{
			FieldName:  fieldName,
			ParentType: parentType,
			ReturnType: returnType,
			Path:       path,
			Field:      fieldNode,
			Schema:     exeContext.Schema,
		},
	}

	result, err := resolveField(ctx, exeContext, params)
	if err != nil {
		return handleFieldError(exeContext, locatedError(ctx, exeContext, err, fieldNode, path), returnType)
	}

	completed, gErr := completeValue(ctx, exeContext, returnType, fieldNodes, path, result)
	if gErr != nil {
		return handleFieldError(exeContext, gErr, returnType)
	}

	return completed, nil
}

func getFieldDef(parentType *ast.Definition, fieldNode *ast.Field) *ast.FieldDefinition {
	// The validator binds fields selected through an interface to the
	// interface's definition; prefer the runtime type's own.
	if def := parentType.Fields.ForName(fieldNode.Name); def != nil {
		return def
	}
	return fieldNode.Definition
}

// resolveField picks the resolver for the field and calls it, turning a
// panic into an error.
func resolveField(ctx context.Context, exeContext *ExecutionContext, p ResolveParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.FromContext(ctx).Error(fmt.Errorf("%v", r), "resolver panicked",
				"field", p.Info.ParentType.Name+"."+p.Info.FieldName,
				"stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("internal system error")
		}
	}()

	if fn, ok := metaFieldResolver(exeContext, p); ok {
		return fn(ctx, p)
	}
	if fn, ok := exeContext.Resolvers[p.Info.ParentType.Name][p.Info.FieldName]; ok && fn != nil {
		return wrapMiddleware(exeContext.Middleware, fn)(ctx, p)
	}
	if fn, ok := introspectionResolvers[p.Info.ParentType.Name][p.Info.FieldName]; ok {
		return fn(ctx, p)
	}
	if p.Info.ParentType == exeContext.Schema.Subscription && exeContext.Operation.Operation == ast.Subscription {
		// The event itself is the value of the subscription root field.
		return p.Source, nil
	}
	return exeContext.FieldResolver(ctx, p)
}

func wrapMiddleware(middleware []FieldMiddleware, fn FieldResolveFn) FieldResolveFn {
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, next := middleware[i], fn
		fn = func(ctx context.Context, p ResolveParams) (any, error) {
			return mw(ctx, p, next)
		}
	}
	return fn
}

func handleFieldError(exeContext *ExecutionContext, gErr *gqlerror.Error, returnType *ast.Type) (graphql.Marshaler, *gqlerror.Error) {
	// If the field type is non-nullable, then it is resolved without any
	// protection from errors, however it still properly locates the error.
	if returnType.NonNull {
		return nil, gErr
	}
	// Otherwise, error protection is applied, logging the error and resolving
	// a null value for this field if one is encountered.
	exeContext.addError(gErr)
	return graphql.Null, nil
}

// completeValue ensures result matches returnType.
//
// If the field type is Non-Null, then this recursively completes the value
// for the inner type. It returns a field error if that completion returns null.
//
// If the field type is a List, then this recursively completes the value
// for the inner type on each item in the list.
//
// If the field type is a Scalar or Enum, ensures the completed value is a legal
// value of the type.
//
// If the field is an abstract type, determine the runtime type of the value
// and then complete based on that type.
//
// Otherwise, the field type expects a sub-selection set, and will complete the
// value by executing all sub-selections.
func completeValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Type, fieldNodes []*ast.Field, path ast.Path, result any) (graphql.Marshaler, *gqlerror.Error) {
	// If field type is NonNull, complete for inner type, and throw field error
	// if result is null.
	if returnType.NonNull {
		copied := *returnType
		copied.NonNull = false
		completed, gErr := completeValue(ctx, exeContext, &copied, fieldNodes, path, result)
		if gErr != nil {
			return nil, gErr
		}
		if completed == graphql.Null {
			return nil, locatedErrorf(fieldNodes[0], path, "cannot return null for non-nullable field %s", fieldNodes[0].Name)
		}
		return completed, nil
	}

	// If result value is null or undefined then return null.
	if isNil(result) {
		return graphql.Null, nil
	}

	// If field type is List, complete each item in the list with the inner type
	if returnType.Elem != nil {
		return completeListValue(ctx, exeContext, returnType, fieldNodes, path, result)
	}

	def := exeContext.Schema.Types[returnType.NamedType]

	// If field type is a leaf type, Scalar or Enum, serialize to a valid value,
	// returning null if serialization is not possible.
	if utils.IsLeafType(def) {
		return completeLeafValue(def, fieldNodes[0], path, result)
	}

	// If field type is an abstract type, Interface or Union, determine the
	// runtime Object type and complete for that type.
	if utils.IsAbstractType(def) {
		return completeAbstractValue(ctx, exeContext, def, fieldNodes, path, result)
	}

	// If field type is Object, execute and complete all sub-selections.
	if utils.IsObjectType(def) {
		return completeObjectValue(ctx, exeContext, def, fieldNodes, path, result)
	}

	return nil, locatedErrorf(fieldNodes[0], path, "cannot complete value of unexpected output type: %s", returnType.String())
}

// Complete a list value by completing each item in the list with the
// inner type
func completeListValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Type, fieldNodes []*ast.Field, path ast.Path, result any) (graphql.Marshaler, *gqlerror.Error) {
	resultRV := reflect.ValueOf(result)
	for resultRV.Kind() == reflect.Pointer {
		resultRV = resultRV.Elem()
	}
	if resultRV.Kind() != reflect.Slice && resultRV.Kind() != reflect.Array {
		return nil, locatedErrorf(fieldNodes[0], path, `expected slice, but did not find one for field "%s"`, fieldNodes[0].Name)
	}

	itemType := returnType.Elem
	n := resultRV.Len()
	ret := make(graphql.Array, n)
	gErrs := make([]*gqlerror.Error, n)

	completeItem := func(index int) {
		itemPath := appendPath(path, ast.PathIndex(index))
		completedItem, gErr := completeValue(ctx, exeContext, itemType, fieldNodes, itemPath, resultRV.Index(index).Interface())
		if gErr != nil {
			completedItem, gErr = handleFieldError(exeContext, gErr, itemType)
		}
		ret[index], gErrs[index] = completedItem, gErr
	}

	// Only items with sub-selections can block on resolvers.
	if utils.IsLeafType(exeContext.Schema.Types[itemType.Name()]) || n < 2 {
		for index := 0; index < n; index++ {
			completeItem(index)
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(n)
		for index := 0; index < n; index++ {
			go func(index int) {
				defer wg.Done()
				completeItem(index)
			}(index)
		}
		wg.Wait()
	}

	for _, gErr := range gErrs {
		if gErr != nil {
			return nil, gErr
		}
	}
	return ret, nil
}

// Complete an abstract value by determining the runtime object type
// of that value, then complete the value for that type.
func completeAbstractValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field, path ast.Path, result any) (graphql.Marshaler, *gqlerror.Error) {
	runtimeTypeName := exeContext.TypeResolver(ctx, result, exeContext.Schema, returnType)
	runtimeType, gErr := ensureValidRuntimeType(runtimeTypeName, exeContext, returnType, fieldNodes[0], path)
	if gErr != nil {
		return nil, gErr
	}

	return completeObjectValue(ctx, exeContext, runtimeType, fieldNodes, path, result)
}

func ensureValidRuntimeType(runtimeTypeName string, exeContext *ExecutionContext, returnType *ast.Definition, fieldNode *ast.Field, path ast.Path) (*ast.Definition, *gqlerror.Error) {
	if runtimeTypeName == "" {
		return nil, locatedErrorf(fieldNode, path,
			`abstract type "%s" must resolve to an Object type at runtime for field "%s"`,
			returnType.Name, fieldNode.Name)
	}

	runtimeType := exeContext.Schema.Types[runtimeTypeName]
	if runtimeType == nil {
		return nil, locatedErrorf(fieldNode, path,
			`abstract type "%s" was resolved to a type "%s" that does not exist inside the schema`,
			returnType.Name, runtimeTypeName)
	}

	if runtimeType.Kind != ast.Object {
		return nil, locatedErrorf(fieldNode, path,
			`abstract type "%s" was resolved to a non-object type "%s"`,
			returnType.Name, runtimeTypeName)
	}

	if !utils.IsTypeDefSubTypeOf(exeContext.Schema, runtimeType, returnType) {
		return nil, locatedErrorf(fieldNode, path,
			`runtime Object type "%s" is not a possible type for "%s"`,
			runtimeType.Name, returnType.Name)
	}

	return runtimeType, nil
}

// Complete an Object value by executing all sub-selections.
func completeObjectValue(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field, path ast.Path, result any) (graphql.Marshaler, *gqlerror.Error) {
	subFieldNodes := collectSubfields(exeContext, returnType, fieldNodes)
	return executeFields(ctx, exeContext, returnType, result, path, subFieldNodes)
}

// locatedError converts a resolver error into a client error carrying the
// field's location and path.
func locatedError(ctx context.Context, exeContext *ExecutionContext, err error, fieldNode *ast.Field, path ast.Path) *gqlerror.Error {
	var gErr *gqlerror.Error
	if exeContext.ErrorPresenter != nil {
		gErr = exeContext.ErrorPresenter(ctx, err)
	}
	if gErr == nil {
		gErr = toGQLError(err)
	}
	if gErr.Path == nil {
		gErr.Path = path
	}
	if len(gErr.Locations) == 0 && fieldNode.Position != nil {
		gErr.Locations = []gqlerror.Location{{Line: fieldNode.Position.Line, Column: fieldNode.Position.Column}}
	}
	return gErr
}

func locatedErrorf(fieldNode *ast.Field, path ast.Path, format string, args ...any) *gqlerror.Error {
	gErr := gqlerror.ErrorPathf(path, format, args...)
	if fieldNode.Position != nil {
		gErr.Locations = []gqlerror.Location{{Line: fieldNode.Position.Line, Column: fieldNode.Position.Column}}
	}
	return gErr
}

func toGQLError(err error) *gqlerror.Error {
	if gErr, ok := err.(*gqlerror.Error); ok {
		copied := *gErr
		return &copied
	}
	return &gqlerror.Error{Message: err.Error(), Err: err}
}

// appendPath never shares the backing array between siblings.
func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	next := make(ast.Path, len(path)+1)
	copy(next, path)
	next[len(path)] = el
	return next
}
