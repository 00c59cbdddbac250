package graph

import (
	"context"
	"crypto/subtle"

	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/errors"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/store"
)

// requireUser is the guard of authenticated mutations. It runs before any
// store access.
func requireUser(ctx context.Context) (*model.User, error) {
	user := auth.CurrentUser(ctx)
	if user == nil {
		return nil, errors.Unauthenticated("not authenticated")
	}
	return user, nil
}

func (r *queryResolver) BookCount(ctx context.Context) (int, error) {
	count, err := r.store.CountBooks(ctx, store.BookFilter{})
	if err != nil {
		return 0, errors.Storage(err, "Error counting books")
	}
	return count, nil
}

func (r *queryResolver) AuthorCount(ctx context.Context) (int, error) {
	count, err := r.store.CountAuthors(ctx)
	if err != nil {
		return 0, errors.Storage(err, "Error counting authors")
	}
	return count, nil
}

func (r *queryResolver) AllBooks(ctx context.Context, author *string, genre *string) ([]*model.Book, error) {
	var filter store.BookFilter
	if genre != nil {
		filter.Genre = *genre
	}
	if author != nil && *author != "" {
		ids, err := r.authorIDs(ctx, *author)
		if err != nil {
			return nil, errors.Storage(err, "Error fetching books")
		}
		if len(ids) == 0 {
			return []*model.Book{}, nil
		}
		filter.AuthorIDs = ids
	}

	books, err := r.store.FindBooks(ctx, filter)
	if err != nil {
		return nil, errors.Storage(err, "Error fetching books")
	}
	return books, nil
}

// authorIDs resolves an author argument given either as an id or as a name.
func (r *queryResolver) authorIDs(ctx context.Context, author string) ([]string, error) {
	byID, err := r.store.FindAuthorByID(ctx, author)
	if err != nil {
		return nil, err
	}
	if byID != nil {
		return []string{byID.ID}, nil
	}

	byName, err := r.store.FindAuthors(ctx, store.AuthorFilter{Name: author})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(byName))
	for _, a := range byName {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (r *queryResolver) AllAuthors(ctx context.Context, author *string) ([]*model.Author, error) {
	var filter store.AuthorFilter
	if author != nil {
		filter.Name = *author
	}
	authors, err := r.store.FindAuthors(ctx, filter)
	if err != nil {
		return nil, errors.Storage(err, "Error fetching authors")
	}
	return authors, nil
}

func (r *queryResolver) Me(ctx context.Context) (*model.User, error) {
	return auth.CurrentUser(ctx), nil
}

type addBookInput struct {
	Title     string   `json:"title" validate:"required,min=2"`
	Author    string   `json:"author" validate:"required,min=2"`
	Published int      `json:"published" validate:"gte=0,lte=9999"`
	Genres    []string `json:"genres" validate:"dive,required"`
}

func (r *mutationResolver) AddBook(ctx context.Context, title string, author string, published int, genres []string) (*model.Book, error) {
	user, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.validator.Validate(addBookInput{Title: title, Author: author, Published: published, Genres: genres}); err != nil {
		return nil, err
	}
	logger := log.FromContext(ctx)

	a, created, err := r.store.EnsureAuthor(ctx, author)
	if err != nil {
		return nil, errors.Storage(err, "Saving author failed")
	}
	if created {
		logger.Info("author created", "id", a.ID, "name", a.Name)
	}

	if genres == nil {
		genres = []string{}
	}
	book := &model.Book{
		Title:     title,
		Published: published,
		Genres:    genres,
		AuthorID:  a.ID,
	}
	if err := r.store.InsertBook(ctx, book); err != nil {
		return nil, errors.Storage(err, "Saving book failed")
	}
	logger.Info("book added", "id", book.ID, "title", book.Title, "user", user.Username)

	r.events.Publish(ctx, TopicBookAdded, book)

	return book, nil
}

type addAuthorInput struct {
	Name string `json:"name" validate:"required,min=2"`
	Born *int   `json:"born" validate:"omitempty,lte=9999"`
}

func (r *mutationResolver) AddAuthor(ctx context.Context, name string, born *int) (*model.Author, error) {
	if err := r.validator.Validate(addAuthorInput{Name: name, Born: born}); err != nil {
		return nil, err
	}

	author := &model.Author{Name: name, Born: born}
	if err := r.store.InsertAuthor(ctx, author); err != nil {
		return nil, errors.Storage(err, "Saving author failed")
	}
	log.FromContext(ctx).Info("author created", "id", author.ID, "name", author.Name)
	return author, nil
}

type editAuthorInput struct {
	Name      string `json:"name" validate:"required"`
	SetBornTo int    `json:"setBornTo" validate:"lte=9999"`
}

func (r *mutationResolver) EditAuthor(ctx context.Context, name string, setBornTo int) (*model.Author, error) {
	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}
	if err := r.validator.Validate(editAuthorInput{Name: name, SetBornTo: setBornTo}); err != nil {
		return nil, err
	}

	author, err := r.store.FindAuthorByName(ctx, name)
	if err != nil {
		return nil, errors.Storage(err, "Fetching author failed")
	}
	if author == nil {
		return nil, errors.NotFoundf("author %q not found", name)
	}

	updated, err := r.store.SetAuthorBorn(ctx, author.ID, setBornTo)
	if err != nil {
		return nil, errors.Storage(err, "Saving year of birth failed")
	}
	if updated == nil {
		return nil, errors.NotFoundf("author %q not found", name)
	}
	return updated, nil
}

type createUserInput struct {
	Username      string `json:"username" validate:"required,min=3"`
	FavoriteGenre string `json:"favoriteGenre" validate:"omitempty,max=64"`
}

func (r *mutationResolver) CreateUser(ctx context.Context, username string, favoriteGenre string) (*model.User, error) {
	if err := r.validator.Validate(createUserInput{Username: username, FavoriteGenre: favoriteGenre}); err != nil {
		return nil, err
	}

	user := &model.User{Username: username, FavoriteGenre: favoriteGenre}
	if err := r.store.InsertUser(ctx, user); errors.Is(err, store.ErrDuplicate) {
		return nil, errors.ValidationWithDetails("username must be unique", map[string]string{"username": "must be unique"})
	} else if err != nil {
		return nil, errors.Storage(err, "Creating the user failed")
	}
	return user, nil
}

func (r *mutationResolver) Login(ctx context.Context, username string, password string) (*model.Token, error) {
	if r.loginLimiter != nil && !r.loginLimiter.Allow(username) {
		return nil, errors.RateLimited("too many login attempts, try again later")
	}

	user, err := r.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.Storage(err, "Fetching user failed")
	}
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(r.loginPassword)) == 1
	if user == nil || !passwordOK {
		log.FromContext(ctx).V(1).Info("login rejected", "username", username)
		return nil, errors.InvalidCredentials()
	}

	value, err := r.tokens.Sign(user)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "Signing token failed")
	}
	return &model.Token{Value: value}, nil
}

func (r *subscriptionResolver) BookAdded(ctx context.Context) (<-chan any, error) {
	ch, err := r.events.Subscribe(ctx, TopicBookAdded)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "Subscribing to new books failed")
	}
	return ch, nil
}
