package graph

import (
	"io"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// PrintSDL writes the schema as SDL. With sorted, types, fields, arguments,
// enum values and directives are ordered by name so the output diffs cleanly.
func PrintSDL(w io.Writer, sorted bool) error {
	schema, err := LoadSchema()
	if err != nil {
		return err
	}
	if sorted {
		lexicographicSortSchema(schema)
	}
	formatter.NewFormatter(w).FormatSchema(schema)
	return nil
}

// lexicographicSortSchema sorts schema in place.
func lexicographicSortSchema(schema *ast.Schema) {
	for _, def := range schema.Types {
		sortDefinition(def)
	}
	for _, dir := range schema.Directives {
		slices.SortFunc(dir.Arguments, func(a, b *ast.ArgumentDefinition) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
	for name, defs := range schema.PossibleTypes {
		schema.PossibleTypes[name] = sortedDefinitions(defs)
	}
	for name, defs := range schema.Implements {
		schema.Implements[name] = sortedDefinitions(defs)
	}
}

func sortDefinition(def *ast.Definition) {
	if def == nil {
		return
	}
	sortDirectives(def.Directives)
	slices.Sort(def.Interfaces)
	slices.Sort(def.Types)

	slices.SortFunc(def.Fields, func(a, b *ast.FieldDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, field := range def.Fields {
		slices.SortFunc(field.Arguments, func(a, b *ast.ArgumentDefinition) int {
			return strings.Compare(a.Name, b.Name)
		})
		for _, arg := range field.Arguments {
			sortDirectives(arg.Directives)
		}
		sortDirectives(field.Directives)
	}

	slices.SortFunc(def.EnumValues, func(a, b *ast.EnumValueDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, v := range def.EnumValues {
		sortDirectives(v.Directives)
	}
}

func sortDirectives(directives ast.DirectiveList) {
	slices.SortFunc(directives, func(a, b *ast.Directive) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, d := range directives {
		slices.SortFunc(d.Arguments, func(a, b *ast.Argument) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
}

func sortedDefinitions(defs []*ast.Definition) []*ast.Definition {
	out := slices.Clone(defs)
	slices.SortFunc(out, func(a, b *ast.Definition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
