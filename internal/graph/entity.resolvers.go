package graph

import (
	"context"

	"github.com/vvakame/libraryql/internal/errors"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/store"
)

func (r *bookResolver) Author(ctx context.Context, obj *model.Book) (*model.Author, error) {
	author, err := r.store.FindAuthorByID(ctx, obj.AuthorID)
	if err != nil {
		return nil, errors.Storage(err, "Error fetching author")
	}
	if author == nil {
		return nil, errors.NotFoundf("author %s of book %s not found", obj.AuthorID, obj.ID)
	}
	return author, nil
}

func (r *authorResolver) BookCount(ctx context.Context, obj *model.Author) (int, error) {
	count, err := r.store.CountBooks(ctx, store.BookFilter{AuthorIDs: []string{obj.ID}})
	if err != nil {
		return 0, errors.Storage(err, "Error counting books for author")
	}
	return count, nil
}
