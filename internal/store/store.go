// Package store defines the document storage used by the resolvers.
//
// Find* lookups of a single record return (nil, nil) when nothing matches;
// callers check for absence before acting on the result.
package store

import (
	"context"
	"errors"

	"github.com/vvakame/libraryql/internal/model"
)

// ErrDuplicate is returned when a write violates a unique key.
var ErrDuplicate = errors.New("store: duplicate key")

// BookFilter restricts book queries. Zero values match everything.
type BookFilter struct {
	AuthorIDs []string
	Genre     string
}

// AuthorFilter restricts author queries. Zero values match everything.
type AuthorFilter struct {
	Name string
}

type Store interface {
	CountBooks(ctx context.Context, filter BookFilter) (int, error)
	FindBooks(ctx context.Context, filter BookFilter) ([]*model.Book, error)
	// InsertBook assigns book.ID.
	InsertBook(ctx context.Context, book *model.Book) error

	CountAuthors(ctx context.Context) (int, error)
	FindAuthors(ctx context.Context, filter AuthorFilter) ([]*model.Author, error)
	FindAuthorByID(ctx context.Context, id string) (*model.Author, error)
	// FindAuthorByName returns the earliest author with exactly this name.
	FindAuthorByName(ctx context.Context, name string) (*model.Author, error)
	// InsertAuthor always creates a new record, even if the name is taken.
	InsertAuthor(ctx context.Context, author *model.Author) error
	// EnsureAuthor returns the author with this name, creating it when
	// absent. created reports whether this call made the record.
	EnsureAuthor(ctx context.Context, name string) (author *model.Author, created bool, err error)
	// SetAuthorBorn returns (nil, nil) when id does not exist.
	SetAuthorBorn(ctx context.Context, id string, born int) (*model.Author, error)

	// InsertUser returns ErrDuplicate when the username is taken.
	InsertUser(ctx context.Context, user *model.User) error
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)

	Close(ctx context.Context) error
}

// Matches reports whether book passes the filter.
func (f BookFilter) Matches(book *model.Book) bool {
	if f.Genre != "" && !contains(book.Genres, f.Genre) {
		return false
	}
	if len(f.AuthorIDs) != 0 && !contains(f.AuthorIDs, book.AuthorID) {
		return false
	}
	return true
}

func (f BookFilter) IsZero() bool {
	return f.Genre == "" && len(f.AuthorIDs) == 0
}

// Matches reports whether author passes the filter.
func (f AuthorFilter) Matches(author *model.Author) bool {
	return f.Name == "" || f.Name == author.Name
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
