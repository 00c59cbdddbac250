package graph

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/execute"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/pubsub"
	"github.com/vvakame/libraryql/internal/ratelimit"
	"github.com/vvakame/libraryql/internal/store"
	"github.com/vvakame/libraryql/internal/store/badgerstore"
)

// recordingStore records every write attempt and the author lookup, and
// fails the operations listed in fail.
type recordingStore struct {
	store.Store

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (s *recordingStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.fail[op]
}

func (s *recordingStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[string]error)
	}
	s.fail[op] = err
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) InsertBook(ctx context.Context, book *model.Book) error {
	if err := s.record("InsertBook"); err != nil {
		return err
	}
	return s.Store.InsertBook(ctx, book)
}

func (s *recordingStore) InsertAuthor(ctx context.Context, author *model.Author) error {
	if err := s.record("InsertAuthor"); err != nil {
		return err
	}
	return s.Store.InsertAuthor(ctx, author)
}

func (s *recordingStore) EnsureAuthor(ctx context.Context, name string) (*model.Author, bool, error) {
	if err := s.record("EnsureAuthor"); err != nil {
		return nil, false, err
	}
	return s.Store.EnsureAuthor(ctx, name)
}

func (s *recordingStore) FindAuthorByName(ctx context.Context, name string) (*model.Author, error) {
	if err := s.record("FindAuthorByName"); err != nil {
		return nil, err
	}
	return s.Store.FindAuthorByName(ctx, name)
}

func (s *recordingStore) SetAuthorBorn(ctx context.Context, id string, born int) (*model.Author, error) {
	if err := s.record("SetAuthorBorn"); err != nil {
		return nil, err
	}
	return s.Store.SetAuthorBorn(ctx, id, born)
}

func (s *recordingStore) InsertUser(ctx context.Context, user *model.User) error {
	if err := s.record("InsertUser"); err != nil {
		return err
	}
	return s.Store.InsertUser(ctx, user)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *recordingStore
	events   *pubsub.PubSub
	tokens   *auth.TokenService
	resolver *Resolver
	schema   *ast.Schema
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	ctx := log.WithLogger(context.Background(), testr.New(t))
	bs, err := badgerstore.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, bs.Close(ctx))
	})

	tokens, err := auth.NewTokenService("test-secret", 0)
	require.NoError(t, err)

	events := pubsub.New()
	t.Cleanup(events.Close)

	rec := &recordingStore{Store: bs}
	cfg := Config{
		Store:         rec,
		Events:        events,
		Tokens:        tokens,
		LoginPassword: "secret",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	resolver, err := NewResolver(cfg)
	require.NoError(t, err)

	schema, err := LoadSchema()
	require.NoError(t, err)

	return &harness{
		t:        t,
		ctx:      ctx,
		store:    rec,
		events:   events,
		tokens:   tokens,
		resolver: resolver,
		schema:   schema,
	}
}

func (h *harness) args(query string, variables map[string]any) *execute.ExecutionArgs {
	h.t.Helper()

	doc, gErrs := gqlparser.LoadQuery(h.schema, query)
	require.Empty(h.t, gErrs)
	return &execute.ExecutionArgs{
		Schema:         h.schema,
		Document:       doc,
		VariableValues: variables,
		Resolvers:      h.resolver.Resolvers(),
		Subscribers:    h.resolver.Subscribers(),
		ErrorPresenter: ErrorPresenter,
	}
}

func (h *harness) exec(ctx context.Context, query string, variables map[string]any) *graphql.Response {
	h.t.Helper()

	resp, gErr := execute.Execute(ctx, h.args(query, variables))
	require.Nil(h.t, gErr)
	return resp
}

// asUser returns a context carrying a stored user.
func (h *harness) asUser(username string) context.Context {
	h.t.Helper()

	user := &model.User{Username: username, FavoriteGenre: "refactoring"}
	require.NoError(h.t, h.store.Store.InsertUser(h.ctx, user))
	return auth.WithCurrentUser(h.ctx, user)
}

func (h *harness) counts() (books, authors int) {
	h.t.Helper()

	var data struct {
		BookCount   int `json:"bookCount"`
		AuthorCount int `json:"authorCount"`
	}
	decode(h.t, h.exec(h.ctx, `{ bookCount authorCount }`, nil), &data)
	return data.BookCount, data.AuthorCount
}

func decode(t *testing.T, resp *graphql.Response, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v), string(resp.Data))
}

func errorCode(t *testing.T, resp *graphql.Response) string {
	t.Helper()
	require.Len(t, resp.Errors, 1, "response: %s", resp.Data)
	code, _ := resp.Errors[0].Extensions["code"].(string)
	return code
}

const addBookMutation = `
	mutation ($title: String!, $author: String!, $genres: [String!]!) {
		addBook(title: $title, author: $author, published: 1872, genres: $genres) {
			id
			title
			published
			genres
			author { id name born bookCount }
		}
	}
`

type addedBook struct {
	AddBook *struct {
		ID        string   `json:"id"`
		Title     string   `json:"title"`
		Published int      `json:"published"`
		Genres    []string `json:"genres"`
		Author    struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Born      *int   `json:"born"`
			BookCount int    `json:"bookCount"`
		} `json:"author"`
	} `json:"addBook"`
}

func bookVars(title, author string, genres ...string) map[string]any {
	if genres == nil {
		genres = []string{}
	}
	return map[string]any{"title": title, "author": author, "genres": genres}
}

func TestNewResolverRequiresDependencies(t *testing.T) {
	h := newHarness(t)

	_, err := NewResolver(Config{})
	assert.Error(t, err)

	_, err = NewResolver(Config{Store: h.store, Events: h.events, Tokens: h.tokens})
	assert.Error(t, err, "login password")
}

func TestGuardedMutationsRequireUser(t *testing.T) {
	h := newHarness(t)

	resp := h.exec(h.ctx, addBookMutation, bookVars("Demons", "Fyodor Dostoevsky", "classic"))
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, resp))
	assert.Equal(t, "not authenticated", resp.Errors[0].Message)
	assert.JSONEq(t, `{"addBook": null}`, string(resp.Data))

	resp = h.exec(h.ctx, `mutation { editAuthor(name: "Fyodor Dostoevsky", setBornTo: 1821) { name } }`, nil)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, resp))
	assert.JSONEq(t, `{"editAuthor": null}`, string(resp.Data))

	assert.Empty(t, h.store.Calls(), "no store access before the guard")
	books, authors := h.counts()
	assert.Zero(t, books)
	assert.Zero(t, authors)
}

func TestAddBookCreatesMissingAuthorOnce(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	var first addedBook
	resp := h.exec(ctx, addBookMutation, bookVars("Demons", "New Name", "classic", "revolution"))
	require.Empty(t, resp.Errors)
	decode(t, resp, &first)
	require.NotNil(t, first.AddBook)
	assert.NotEmpty(t, first.AddBook.ID)
	assert.Equal(t, "Demons", first.AddBook.Title)
	assert.Equal(t, 1872, first.AddBook.Published)
	assert.Equal(t, []string{"classic", "revolution"}, first.AddBook.Genres)
	assert.Equal(t, "New Name", first.AddBook.Author.Name)
	assert.Nil(t, first.AddBook.Author.Born)
	assert.Equal(t, 1, first.AddBook.Author.BookCount)

	books, authors := h.counts()
	assert.Equal(t, 1, books)
	assert.Equal(t, 1, authors)

	var second addedBook
	resp = h.exec(ctx, addBookMutation, bookVars("The Idiot", "New Name"))
	require.Empty(t, resp.Errors)
	decode(t, resp, &second)
	assert.Equal(t, first.AddBook.Author.ID, second.AddBook.Author.ID)
	assert.Equal(t, 2, second.AddBook.Author.BookCount)
	assert.Equal(t, []string{}, second.AddBook.Genres)

	books, authors = h.counts()
	assert.Equal(t, 2, books)
	assert.Equal(t, 1, authors)
}

func TestAddBookReusesExistingAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	var added struct {
		AddAuthor struct {
			ID   string `json:"id"`
			Born *int   `json:"born"`
		} `json:"addAuthor"`
	}
	resp := h.exec(ctx, `mutation { addAuthor(name: "Reijo Maki", born: 1958) { id born } }`, nil)
	require.Empty(t, resp.Errors)
	decode(t, resp, &added)
	require.NotNil(t, added.AddAuthor.Born)
	assert.Equal(t, 1958, *added.AddAuthor.Born)

	var book addedBook
	resp = h.exec(ctx, addBookMutation, bookVars("Pimeyden tango", "Reijo Maki", "crime"))
	require.Empty(t, resp.Errors)
	decode(t, resp, &book)
	assert.Equal(t, added.AddAuthor.ID, book.AddBook.Author.ID)
	require.NotNil(t, book.AddBook.Author.Born)
	assert.Equal(t, 1958, *book.AddBook.Author.Born)

	books, authors := h.counts()
	assert.Equal(t, 1, books)
	assert.Equal(t, 1, authors)
}

func TestConcurrentAddBookSharesAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	const n = 6
	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			var book addedBook
			resp := h.exec(ctx, addBookMutation, bookVars("Same Author Book", "Raced Name"))
			if !assert.Empty(t, resp.Errors) {
				return
			}
			if assert.NoError(t, json.Unmarshal(resp.Data, &book)) && assert.NotNil(t, book.AddBook) {
				ids[i] = book.AddBook.Author.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	books, authors := h.counts()
	assert.Equal(t, n, books)
	assert.Equal(t, 1, authors)
}

func TestAddAuthorTwiceCreatesTwoAuthors(t *testing.T) {
	h := newHarness(t)

	var ids []string
	for i := 0; i < 2; i++ {
		var added struct {
			AddAuthor struct {
				ID string `json:"id"`
			} `json:"addAuthor"`
		}
		resp := h.exec(h.ctx, `mutation { addAuthor(name: "Joshua Kerievsky") { id } }`, nil)
		require.Empty(t, resp.Errors)
		decode(t, resp, &added)
		ids = append(ids, added.AddAuthor.ID)
	}

	assert.NotEqual(t, ids[0], ids[1])
	_, authors := h.counts()
	assert.Equal(t, 2, authors)
}

func TestAddBookStorageFailures(t *testing.T) {
	t.Run("author", func(t *testing.T) {
		h := newHarness(t)
		ctx := h.asUser("alice")
		h.store.failOn("EnsureAuthor", stderrors.New("connection reset"))

		resp := h.exec(ctx, addBookMutation, bookVars("Demons", "New Name"))
		assert.Equal(t, "STORAGE_FAILURE", errorCode(t, resp))
		assert.Equal(t, "Saving author failed", resp.Errors[0].Message)
		assert.NotContains(t, h.store.Calls(), "InsertBook")

		books, _ := h.counts()
		assert.Zero(t, books)
	})

	t.Run("book", func(t *testing.T) {
		h := newHarness(t)
		ctx := h.asUser("alice")
		h.store.failOn("InsertBook", stderrors.New("disk full"))

		resp := h.exec(ctx, addBookMutation, bookVars("Demons", "New Name"))
		assert.Equal(t, "STORAGE_FAILURE", errorCode(t, resp))
		assert.Equal(t, "Saving book failed", resp.Errors[0].Message)
		assert.JSONEq(t, `{"addBook": null}`, string(resp.Data))
	})
}

func TestAddBookValidation(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	resp := h.exec(ctx, addBookMutation, bookVars("D", "New Name", ""))
	assert.Equal(t, "VALIDATION_FAILURE", errorCode(t, resp))
	details, ok := resp.Errors[0].Extensions["details"].(map[string]string)
	require.True(t, ok, "%#v", resp.Errors[0].Extensions)
	assert.Contains(t, details, "title")
	assert.Contains(t, details, "genres[0]")
	assert.Empty(t, h.store.Calls())
}

func TestBookAddedSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	subCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stream, gErrs := execute.Subscribe(subCtx, h.args(heredoc.Doc(`
		subscription {
			bookAdded { title genres author { name } }
		}
	`), nil))
	require.Empty(t, gErrs)
	assert.Equal(t, 1, h.events.Subscribers(TopicBookAdded))

	resp := h.exec(ctx, addBookMutation, bookVars("Demons", "Fyodor Dostoevsky", "classic"))
	require.Empty(t, resp.Errors)

	select {
	case event := <-stream:
		require.Empty(t, event.Errors)
		assert.JSONEq(t, `{"bookAdded": {"title": "Demons", "genres": ["classic"], "author": {"name": "Fyodor Dostoevsky"}}}`, string(event.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no bookAdded event")
	}

	h.store.failOn("InsertBook", stderrors.New("disk full"))
	resp = h.exec(ctx, addBookMutation, bookVars("The Idiot", "Fyodor Dostoevsky"))
	require.Len(t, resp.Errors, 1)

	select {
	case event := <-stream:
		t.Fatalf("unexpected event after a failed write: %s", event.Data)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.Eventually(t, func() bool {
		return h.events.Subscribers(TopicBookAdded) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEditAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := h.asUser("alice")

	resp := h.exec(ctx, `mutation { editAuthor(name: "Nobody", setBornTo: 1900) { name born } }`, nil)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
	assert.Equal(t, `author "Nobody" not found`, resp.Errors[0].Message)
	assert.NotContains(t, h.store.Calls(), "SetAuthorBorn")

	_, _, err := h.store.Store.EnsureAuthor(h.ctx, "Sandi Metz")
	require.NoError(t, err)

	resp = h.exec(ctx, `mutation { editAuthor(name: "Sandi Metz", setBornTo: 1958) { name born } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"editAuthor": {"name": "Sandi Metz", "born": 1958}}`, string(resp.Data))

	resp = h.exec(h.ctx, `{ allAuthors(author: "Sandi Metz") { name born bookCount } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"allAuthors": [{"name": "Sandi Metz", "born": 1958, "bookCount": 0}]}`, string(resp.Data))
}

func TestAllBooksFilters(t *testing.T) {
	h := newHarness(t)
	ctx := h.ctx

	fowler, _, err := h.store.Store.EnsureAuthor(ctx, "Martin Fowler")
	require.NoError(t, err)
	martin, _, err := h.store.Store.EnsureAuthor(ctx, "Robert Martin")
	require.NoError(t, err)
	for _, b := range []*model.Book{
		{Title: "Refactoring", Published: 2018, Genres: []string{"refactoring"}, AuthorID: fowler.ID},
		{Title: "Clean Code", Published: 2008, Genres: []string{"refactoring"}, AuthorID: martin.ID},
		{Title: "Agile software development", Published: 2002, Genres: []string{"agile", "patterns"}, AuthorID: martin.ID},
	} {
		require.NoError(t, h.store.Store.InsertBook(ctx, b))
	}

	titles := func(query string, variables map[string]any) []string {
		t.Helper()
		var data struct {
			AllBooks []struct {
				Title string `json:"title"`
			} `json:"allBooks"`
		}
		resp := h.exec(ctx, query, variables)
		require.Empty(t, resp.Errors)
		decode(t, resp, &data)
		out := []string{}
		for _, b := range data.AllBooks {
			out = append(out, b.Title)
		}
		return out
	}

	const query = `query ($author: String, $genre: String) { allBooks(author: $author, genre: $genre) { title } }`
	tests := []struct {
		name      string
		variables map[string]any
		want      []string
	}{
		{"all", nil, []string{"Refactoring", "Clean Code", "Agile software development"}},
		{"by name", map[string]any{"author": "Robert Martin"}, []string{"Clean Code", "Agile software development"}},
		{"by id", map[string]any{"author": fowler.ID}, []string{"Refactoring"}},
		{"by genre", map[string]any{"genre": "refactoring"}, []string{"Refactoring", "Clean Code"}},
		{"by name and genre", map[string]any{"author": "Robert Martin", "genre": "patterns"}, []string{"Agile software development"}},
		{"unknown author", map[string]any{"author": "Nobody"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titles(query, tt.variables)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("allBooks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBookWithDanglingAuthor(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Store.InsertBook(h.ctx, &model.Book{Title: "Orphan", Published: 1999, AuthorID: "gone"}))

	resp := h.exec(h.ctx, `{ bookCount allBooks { title author { name } } }`, nil)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
	assert.Equal(t, ast.Path{ast.PathName("allBooks"), ast.PathIndex(0), ast.PathName("author")}, resp.Errors[0].Path)
	// Book.author and the list are non-null, so the whole response is null.
	assert.JSONEq(t, `null`, string(resp.Data))
}

func TestCreateUserAndMe(t *testing.T) {
	h := newHarness(t)

	resp := h.exec(h.ctx, `mutation { createUser(username: "mluukkai", favoriteGenre: "refactoring") { username favoriteGenre } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"createUser": {"username": "mluukkai", "favoriteGenre": "refactoring"}}`, string(resp.Data))

	resp = h.exec(h.ctx, `mutation { createUser(username: "mluukkai", favoriteGenre: "crime") { username } }`, nil)
	assert.Equal(t, "VALIDATION_FAILURE", errorCode(t, resp))
	assert.Equal(t, "username must be unique", resp.Errors[0].Message)

	resp = h.exec(h.ctx, `{ me { username } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"me": null}`, string(resp.Data))

	resp = h.exec(h.asUser("alice"), `{ me { username favoriteGenre } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"me": {"username": "alice", "favoriteGenre": "refactoring"}}`, string(resp.Data))
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	resp := h.exec(h.ctx, `mutation { createUser(username: "alice", favoriteGenre: "crime") { id } }`, nil)
	require.Empty(t, resp.Errors)
	var created struct {
		CreateUser struct {
			ID string `json:"id"`
		} `json:"createUser"`
	}
	decode(t, resp, &created)

	const login = `mutation ($username: String!, $password: String!) { login(username: $username, password: $password) { value } }`

	resp = h.exec(h.ctx, login, map[string]any{"username": "alice", "password": "secret"})
	require.Empty(t, resp.Errors)
	var token struct {
		Login struct {
			Value string `json:"value"`
		} `json:"login"`
	}
	decode(t, resp, &token)
	require.NotEmpty(t, token.Login.Value)

	claims, err := h.tokens.Verify(token.Login.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, created.CreateUser.ID, claims.ID)

	wrongPassword := h.exec(h.ctx, login, map[string]any{"username": "alice", "password": "wrong"})
	unknownUser := h.exec(h.ctx, login, map[string]any{"username": "ghost", "password": "secret"})
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, wrongPassword))
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, unknownUser))
	assert.Equal(t, wrongPassword.Errors[0].Message, unknownUser.Errors[0].Message)
	assert.Equal(t, wrongPassword.Errors[0].Extensions, unknownUser.Errors[0].Extensions)
	assert.JSONEq(t, string(wrongPassword.Data), string(unknownUser.Data))
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.LoginLimiter = ratelimit.New(0.001, 2)
	})

	const login = `mutation { login(username: "alice", password: "nope") { value } }`
	for i := 0; i < 2; i++ {
		assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, h.exec(h.ctx, login, nil)))
	}
	assert.Equal(t, "RATE_LIMITED", errorCode(t, h.exec(h.ctx, login, nil)))

	other := h.exec(h.ctx, `mutation { login(username: "bob", password: "nope") { value } }`, nil)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, other))
}

func TestCountsFollowStore(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"A. Author", "B. Author", "C. Author"} {
		require.NoError(t, h.store.Store.InsertAuthor(h.ctx, &model.Author{Name: name}))
	}
	books, authors := h.counts()
	assert.Zero(t, books)
	assert.Equal(t, 3, authors)
}
