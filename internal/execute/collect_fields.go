package execute

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/libraryql/internal/utils"
)

// Fields keeps response keys in document order; a map alone would lose it.
type Fields struct {
	Names    []string
	FieldMap map[string][]*ast.Field
}

func (fs *Fields) get(name string) []*ast.Field {
	if fs.FieldMap == nil {
		return nil
	}
	return fs.FieldMap[name]
}

func (fs *Fields) set(name string, fields []*ast.Field) {
	if fs.FieldMap == nil {
		fs.FieldMap = make(map[string][]*ast.Field)
	}
	_, ok := fs.FieldMap[name]
	if !ok {
		fs.Names = append(fs.Names, name)
	}
	fs.FieldMap[name] = fields
}

// Given a selectionSet, collects all of the fields and returns them grouped by
// response key. Fragment spreads are visited once per selection set.
func collectFields(ec *ExecutionContext, runtimeType *ast.Definition, selectionSet ast.SelectionSet, fields *Fields, visitedFragmentNames map[string]struct{}) *Fields {
	for _, selection := range selectionSet {
		switch selection := selection.(type) {
		case *ast.Field:
			if !shouldIncludeNode(ec.VariableValues, selection.Directives) {
				continue
			}
			name := getFieldEntryKey(selection)
			fieldList := fields.get(name)
			fieldList = append(fieldList, selection)
			fields.set(name, fieldList)

		case *ast.InlineFragment:
			if !shouldIncludeNode(ec.VariableValues, selection.Directives) ||
				!doesFragmentConditionMatch(ec.Schema, selection.TypeCondition, runtimeType) {
				continue
			}
			collectFields(ec, runtimeType, selection.SelectionSet, fields, visitedFragmentNames)

		case *ast.FragmentSpread:
			fragName := selection.Name
			if _, ok := visitedFragmentNames[fragName]; ok || !shouldIncludeNode(ec.VariableValues, selection.Directives) {
				continue
			}
			visitedFragmentNames[fragName] = struct{}{}
			fragment := ec.Fragments.ForName(fragName)
			if fragment == nil ||
				!doesFragmentConditionMatch(ec.Schema, fragment.TypeCondition, runtimeType) {
				continue
			}
			collectFields(ec, runtimeType, fragment.SelectionSet, fields, visitedFragmentNames)
		}
	}

	return fields
}

// collectSubfields merges the selection sets of every node sharing one
// response key, as the same field may be requested in several fragments.
func collectSubfields(ec *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field) *Fields {
	subFields := &Fields{}
	visitedFragmentNames := make(map[string]struct{})
	for _, node := range fieldNodes {
		if len(node.SelectionSet) == 0 {
			continue
		}
		collectFields(ec, returnType, node.SelectionSet, subFields, visitedFragmentNames)
	}
	return subFields
}

// Determines if a field should be included based on the `@include` and `@skip`
// directives, where `@skip` has higher precedence than `@include`.
func shouldIncludeNode(variableValues map[string]interface{}, directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := skip.ArgumentMap(variableValues)["if"].(bool); ok && v {
			return false
		}
	}

	if include := directives.ForName("include"); include != nil {
		if v, ok := include.ArgumentMap(variableValues)["if"].(bool); ok && !v {
			return false
		}
	}

	return true
}

// Determines if a fragment is applicable to the given type.
func doesFragmentConditionMatch(schema *ast.Schema, typeConditionNode string, typ *ast.Definition) bool {
	if typeConditionNode == "" {
		return true
	}
	conditionalType := schema.Types[typeConditionNode]
	if typ == conditionalType {
		return true
	}
	if utils.IsAbstractType(conditionalType) {
		return utils.IsTypeDefSubTypeOf(schema, typ, conditionalType)
	}
	return false
}

// Implements the logic to compute the key of a given field's entry
func getFieldEntryKey(node *ast.Field) string {
	if node.Alias != "" {
		return node.Alias
	}
	return node.Name
}
