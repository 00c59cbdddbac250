package graph

import (
	"context"
	"fmt"

	"github.com/vvakame/libraryql/internal/execute"
	"github.com/vvakame/libraryql/internal/model"
)

// Resolvers binds the typed resolvers to schema fields. Fields missing here
// are read straight off the model values.
func (r *Resolver) Resolvers() execute.ResolverMap {
	query := &queryResolver{r}
	mutation := &mutationResolver{r}
	book := &bookResolver{r}
	author := &authorResolver{r}

	return execute.ResolverMap{
		"Query": {
			"bookCount": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return query.BookCount(ctx)
			},
			"authorCount": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return query.AuthorCount(ctx)
			},
			"allBooks": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return query.AllBooks(ctx, optionalStringArg(p.Args, "author"), optionalStringArg(p.Args, "genre"))
			},
			"allAuthors": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return query.AllAuthors(ctx, optionalStringArg(p.Args, "author"))
			},
			"me": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return query.Me(ctx)
			},
		},
		"Mutation": {
			"addBook": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				published, err := intArg(p.Args, "published")
				if err != nil {
					return nil, err
				}
				genres, err := stringsArg(p.Args, "genres")
				if err != nil {
					return nil, err
				}
				return mutation.AddBook(ctx, stringArg(p.Args, "title"), stringArg(p.Args, "author"), published, genres)
			},
			"addAuthor": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				born, err := optionalIntArg(p.Args, "born")
				if err != nil {
					return nil, err
				}
				return mutation.AddAuthor(ctx, stringArg(p.Args, "name"), born)
			},
			"editAuthor": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				setBornTo, err := intArg(p.Args, "setBornTo")
				if err != nil {
					return nil, err
				}
				return mutation.EditAuthor(ctx, stringArg(p.Args, "name"), setBornTo)
			},
			"createUser": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return mutation.CreateUser(ctx, stringArg(p.Args, "username"), stringArg(p.Args, "favoriteGenre"))
			},
			"login": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				return mutation.Login(ctx, stringArg(p.Args, "username"), stringArg(p.Args, "password"))
			},
		},
		"Book": {
			"author": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				obj, err := sourceAs[model.Book](p)
				if err != nil {
					return nil, err
				}
				return book.Author(ctx, obj)
			},
		},
		"Author": {
			"bookCount": func(ctx context.Context, p execute.ResolveParams) (any, error) {
				obj, err := sourceAs[model.Author](p)
				if err != nil {
					return nil, err
				}
				return author.BookCount(ctx, obj)
			},
		},
	}
}

// Subscribers binds subscription fields to their event streams.
func (r *Resolver) Subscribers() execute.SubscriberMap {
	subscription := &subscriptionResolver{r}
	return execute.SubscriberMap{
		"bookAdded": func(ctx context.Context, p execute.ResolveParams) (<-chan any, error) {
			return subscription.BookAdded(ctx)
		},
	}
}

func sourceAs[T any](p execute.ResolveParams) (*T, error) {
	switch v := p.Source.(type) {
	case *T:
		if v != nil {
			return v, nil
		}
	case T:
		return &v, nil
	}
	return nil, fmt.Errorf("%s.%s: unexpected source %T", p.Info.ParentType.Name, p.Info.FieldName, p.Source)
}
