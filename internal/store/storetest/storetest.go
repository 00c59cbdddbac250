// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/store"
)

// Run runs the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnsureAuthorCreatesOnce", testEnsureAuthorCreatesOnce},
		{"EnsureAuthorConcurrent", testEnsureAuthorConcurrent},
		{"InsertAuthorAllowsDuplicates", testInsertAuthorAllowsDuplicates},
		{"BooksFilters", testBooksFilters},
		{"SetAuthorBorn", testSetAuthorBorn},
		{"Users", testUsers},
		{"LookupsReturnNilOnMiss", testLookupsReturnNilOnMiss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testEnsureAuthorCreatesOnce(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, created, err := s.EnsureAuthor(ctx, "Robert Martin")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Nil(t, first.Born)

	second, created, err := s.EnsureAuthor(ctx, "Robert Martin")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	n, err := s.CountAuthors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testEnsureAuthorConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author, _, err := s.EnsureAuthor(ctx, "Sandi Metz")
			if assert.NoError(t, err) {
				ids[i] = author.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	authors, err := s.FindAuthors(ctx, store.AuthorFilter{Name: "Sandi Metz"})
	require.NoError(t, err)
	assert.Len(t, authors, 1)
}

func testInsertAuthorAllowsDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := &model.Author{Name: "Joshua Kerievsky"}
	b := &model.Author{Name: "Joshua Kerievsky"}
	require.NoError(t, s.InsertAuthor(ctx, a))
	require.NoError(t, s.InsertAuthor(ctx, b))
	assert.NotEqual(t, a.ID, b.ID)

	byName, err := s.FindAuthorByName(ctx, "Joshua Kerievsky")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, a.ID, byName.ID)

	n, err := s.CountAuthors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testBooksFilters(t *testing.T, s store.Store) {
	ctx := context.Background()

	fowler, _, err := s.EnsureAuthor(ctx, "Martin Fowler")
	require.NoError(t, err)
	beck, _, err := s.EnsureAuthor(ctx, "Kent Beck")
	require.NoError(t, err)

	books := []*model.Book{
		{Title: "Refactoring", Published: 2018, Genres: []string{"refactoring", "classic"}, AuthorID: fowler.ID},
		{Title: "TDD by Example", Published: 2002, Genres: []string{"testing"}, AuthorID: beck.ID},
		{Title: "Refactoring to Patterns", Published: 2008, Genres: []string{"refactoring", "patterns"}, AuthorID: beck.ID},
	}
	for _, b := range books {
		require.NoError(t, s.InsertBook(ctx, b))
		assert.NotEmpty(t, b.ID)
	}

	all, err := s.FindBooks(ctx, store.BookFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Refactoring", all[0].Title)
	assert.Equal(t, []string{"refactoring", "classic"}, all[0].Genres)
	assert.Equal(t, fowler.ID, all[0].AuthorID)

	count := func(f store.BookFilter) int {
		t.Helper()
		n, err := s.CountBooks(ctx, f)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 3, count(store.BookFilter{}))
	assert.Equal(t, 2, count(store.BookFilter{AuthorIDs: []string{beck.ID}}))
	assert.Equal(t, 2, count(store.BookFilter{Genre: "refactoring"}))
	assert.Equal(t, 1, count(store.BookFilter{AuthorIDs: []string{beck.ID}, Genre: "refactoring"}))
	assert.Equal(t, 0, count(store.BookFilter{Genre: "poetry"}))

	byBeck, err := s.FindBooks(ctx, store.BookFilter{AuthorIDs: []string{beck.ID}, Genre: "patterns"})
	require.NoError(t, err)
	require.Len(t, byBeck, 1)
	assert.Equal(t, "Refactoring to Patterns", byBeck[0].Title)
}

func testSetAuthorBorn(t *testing.T, s store.Store) {
	ctx := context.Background()

	author := &model.Author{Name: "Fyodor Dostoevsky"}
	require.NoError(t, s.InsertAuthor(ctx, author))

	updated, err := s.SetAuthorBorn(ctx, author.ID, 1821)
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.NotNil(t, updated.Born)
	assert.Equal(t, 1821, *updated.Born)

	reloaded, err := s.FindAuthorByID(ctx, author.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Born)
	assert.Equal(t, 1821, *reloaded.Born)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	alice := &model.User{Username: "alice", FavoriteGenre: "refactoring"}
	require.NoError(t, s.InsertUser(ctx, alice))
	assert.NotEmpty(t, alice.ID)

	err := s.InsertUser(ctx, &model.User{Username: "alice", FavoriteGenre: "crime"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	byName, err := s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, byName)

	byID, err := s.FindUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, byID)
}

func testLookupsReturnNilOnMiss(t *testing.T, s store.Store) {
	ctx := context.Background()

	author, err := s.FindAuthorByName(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, author)

	user, err := s.FindUserByUsername(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, user)

	updated, err := s.SetAuthorBorn(ctx, missingID, 1900)
	assert.NoError(t, err)
	assert.Nil(t, updated)

	byID, err := s.FindAuthorByID(ctx, missingID)
	assert.NoError(t, err)
	assert.Nil(t, byID)

	authors, err := s.FindAuthors(ctx, store.AuthorFilter{})
	assert.NoError(t, err)
	assert.Empty(t, authors)
}

// missingID is a syntactically valid id for every backend.
const missingID = "0123456789abcdef01234567"
