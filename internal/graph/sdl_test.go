package graph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

func TestPrintSDL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintSDL(&buf, true))
	sdl := buf.String()

	assert.Contains(t, sdl, "type Book")
	assert.Contains(t, sdl, "type Subscription")
	assert.NotContains(t, sdl, "__Schema")

	// the printed document is a loadable schema again
	reloaded, gErr := gqlparser.LoadSchema(&ast.Source{Name: "printed.graphqls", Input: sdl})
	require.Nil(t, gErr)
	require.NotNil(t, reloaded.Types["Author"])

	book := sdl[strings.Index(sdl, "type Book"):]
	book = book[:strings.Index(book, "}")]
	assert.Less(t, strings.Index(book, "author"), strings.Index(book, "genres"))
	assert.Less(t, strings.Index(book, "genres"), strings.Index(book, "published"))
	assert.Less(t, strings.Index(book, "published"), strings.Index(book, "title"))
}

func TestPrintSDLKeepsDeclarationOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintSDL(&buf, false))
	sdl := buf.String()

	book := sdl[strings.Index(sdl, "type Book"):]
	book = book[:strings.Index(book, "}")]
	assert.Less(t, strings.Index(book, "title"), strings.Index(book, "published"))
}
