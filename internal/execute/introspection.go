package execute

import (
	"context"

	"github.com/99designs/gqlgen/graphql/introspection"
)

// metaFieldResolver returns the resolver of __schema and __type, which only
// exist on the query root.
func metaFieldResolver(exeContext *ExecutionContext, p ResolveParams) (FieldResolveFn, bool) {
	if p.Info.ParentType != exeContext.Schema.Query {
		return nil, false
	}
	switch p.Info.FieldName {
	case "__schema":
		return func(ctx context.Context, p ResolveParams) (any, error) {
			return introspection.WrapSchema(p.Info.Schema), nil
		}, true
	case "__type":
		return func(ctx context.Context, p ResolveParams) (any, error) {
			name, _ := p.Args["name"].(string)
			def := p.Info.Schema.Types[name]
			if def == nil {
				return nil, nil
			}
			return introspection.WrapTypeFromDef(p.Info.Schema, def), nil
		}, true
	}
	return nil, false
}

func includeDeprecated(p ResolveParams) bool {
	v, _ := p.Args["includeDeprecated"].(bool)
	return v
}

var introspectionResolvers = ResolverMap{
	"__Schema": {
		"description": schemaField(func(s *introspection.Schema, _ ResolveParams) any { return s.Description() }),
		"types":       schemaField(func(s *introspection.Schema, _ ResolveParams) any { return s.Types() }),
		"queryType":   schemaField(func(s *introspection.Schema, _ ResolveParams) any { return s.QueryType() }),
		"mutationType": schemaField(func(s *introspection.Schema, _ ResolveParams) any {
			return s.MutationType()
		}),
		"subscriptionType": schemaField(func(s *introspection.Schema, _ ResolveParams) any {
			return s.SubscriptionType()
		}),
		"directives": schemaField(func(s *introspection.Schema, _ ResolveParams) any { return s.Directives() }),
	},
	"__Type": {
		"kind":        typeField(func(t *introspection.Type, _ ResolveParams) any { return t.Kind() }),
		"name":        typeField(func(t *introspection.Type, _ ResolveParams) any { return t.Name() }),
		"description": typeField(func(t *introspection.Type, _ ResolveParams) any { return t.Description() }),
		"fields": typeField(func(t *introspection.Type, p ResolveParams) any {
			return t.Fields(includeDeprecated(p))
		}),
		"interfaces":    typeField(func(t *introspection.Type, _ ResolveParams) any { return t.Interfaces() }),
		"possibleTypes": typeField(func(t *introspection.Type, _ ResolveParams) any { return t.PossibleTypes() }),
		"enumValues": typeField(func(t *introspection.Type, p ResolveParams) any {
			return t.EnumValues(includeDeprecated(p))
		}),
		"inputFields":    typeField(func(t *introspection.Type, _ ResolveParams) any { return t.InputFields() }),
		"ofType":         typeField(func(t *introspection.Type, _ ResolveParams) any { return t.OfType() }),
		"specifiedByURL": typeField(func(t *introspection.Type, _ ResolveParams) any { return nil }),
		"isOneOf":        typeField(func(t *introspection.Type, _ ResolveParams) any { return nil }),
	},
	"__Field": {
		"name":              fieldField(func(f *introspection.Field) any { return f.Name }),
		"description":       fieldField(func(f *introspection.Field) any { return f.Description() }),
		"args":              fieldField(func(f *introspection.Field) any { return f.Args }),
		"type":              fieldField(func(f *introspection.Field) any { return f.Type }),
		"isDeprecated":      fieldField(func(f *introspection.Field) any { return f.IsDeprecated() }),
		"deprecationReason": fieldField(func(f *introspection.Field) any { return f.DeprecationReason() }),
	},
	"__InputValue": {
		"name":              inputValueField(func(v *introspection.InputValue) any { return v.Name }),
		"description":       inputValueField(func(v *introspection.InputValue) any { return v.Description() }),
		"type":              inputValueField(func(v *introspection.InputValue) any { return v.Type }),
		"defaultValue":      inputValueField(func(v *introspection.InputValue) any { return v.DefaultValue }),
		"isDeprecated":      inputValueField(func(v *introspection.InputValue) any { return false }),
		"deprecationReason": inputValueField(func(v *introspection.InputValue) any { return nil }),
	},
	"__EnumValue": {
		"name":              enumValueField(func(v *introspection.EnumValue) any { return v.Name }),
		"description":       enumValueField(func(v *introspection.EnumValue) any { return v.Description() }),
		"isDeprecated":      enumValueField(func(v *introspection.EnumValue) any { return v.IsDeprecated() }),
		"deprecationReason": enumValueField(func(v *introspection.EnumValue) any { return v.DeprecationReason() }),
	},
	"__Directive": {
		"name":         directiveField(func(d *introspection.Directive) any { return d.Name }),
		"description":  directiveField(func(d *introspection.Directive) any { return d.Description() }),
		"locations":    directiveField(func(d *introspection.Directive) any { return d.Locations }),
		"args":         directiveField(func(d *introspection.Directive) any { return d.Args }),
		"isRepeatable": directiveField(func(d *introspection.Directive) any { return d.IsRepeatable }),
	},
}

func schemaField(fn func(*introspection.Schema, ResolveParams) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		var s *introspection.Schema
		switch v := p.Source.(type) {
		case *introspection.Schema:
			s = v
		case introspection.Schema:
			s = &v
		}
		if s == nil {
			return nil, nil
		}
		return fn(s, p), nil
	}
}

func typeField(fn func(*introspection.Type, ResolveParams) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		var t *introspection.Type
		switch v := p.Source.(type) {
		case *introspection.Type:
			t = v
		case introspection.Type:
			t = &v
		}
		if t == nil {
			return nil, nil
		}
		return fn(t, p), nil
	}
}

func fieldField(fn func(*introspection.Field) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		switch v := p.Source.(type) {
		case *introspection.Field:
			return fn(v), nil
		case introspection.Field:
			return fn(&v), nil
		}
		return nil, nil
	}
}

func inputValueField(fn func(*introspection.InputValue) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		switch v := p.Source.(type) {
		case *introspection.InputValue:
			return fn(v), nil
		case introspection.InputValue:
			return fn(&v), nil
		}
		return nil, nil
	}
}

func enumValueField(fn func(*introspection.EnumValue) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		switch v := p.Source.(type) {
		case *introspection.EnumValue:
			return fn(v), nil
		case introspection.EnumValue:
			return fn(&v), nil
		}
		return nil, nil
	}
}

func directiveField(fn func(*introspection.Directive) any) FieldResolveFn {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		switch v := p.Source.(type) {
		case *introspection.Directive:
			return fn(v), nil
		case introspection.Directive:
			return fn(&v), nil
		}
		return nil, nil
	}
}
