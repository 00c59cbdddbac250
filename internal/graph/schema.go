package graph

import (
	_ "embed"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphqls
var schemaSource string

// TopicBookAdded is the pubsub topic addBook publishes to.
const TopicBookAdded = "BOOK_ADDED"

// Source returns the library schema SDL.
func Source() *ast.Source {
	return &ast.Source{Name: "schema.graphqls", Input: schemaSource, BuiltIn: false}
}

// LoadSchema parses and validates the library schema.
func LoadSchema() (*ast.Schema, error) {
	schema, gErr := gqlparser.LoadSchema(Source())
	if gErr != nil {
		return nil, gErr
	}
	return schema, nil
}
