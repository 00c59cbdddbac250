package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvakame/libraryql/catalog"
	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/graph"
	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/model"
	"github.com/vvakame/libraryql/internal/pubsub"
	"github.com/vvakame/libraryql/internal/store/badgerstore"
)

type testServer struct {
	*httptest.Server
	srv    *Server
	store  *badgerstore.Store
	tokens *auth.TokenService
}

func setupTestServer(t *testing.T, opts ...func(*Config)) *testServer {
	t.Helper()

	logger := testr.New(t)
	ctx := log.WithLogger(context.Background(), logger)

	st, err := badgerstore.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, st.Close(ctx))
	})
	tokens, err := auth.NewTokenService("server-secret", 0)
	require.NoError(t, err)
	events := pubsub.New()
	t.Cleanup(events.Close)

	es, err := catalog.New(ctx, &catalog.Config{
		Config: graph.Config{
			Store:         st,
			Events:        events,
			Tokens:        tokens,
			LoginPassword: "secret",
		},
	})
	require.NoError(t, err)

	cfg := Config{
		Schema:        es,
		Authenticator: auth.NewAuthenticator(tokens, st),
		Logger:        logger,
		CORSOrigins:   []string{"https://library.example"},
		Playground:    true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, srv: srv, store: st, tokens: tokens}
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func (ts *testServer) post(t *testing.T, token, query string, variables map[string]any) (int, *gqlResponse) {
	t.Helper()

	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/query", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp.StatusCode, nil
	}
	out := &gqlResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode, out
}

func (ts *testServer) signedUser(t *testing.T, username string) (*model.User, string) {
	t.Helper()
	user := &model.User{Username: username, FavoriteGenre: "crime"}
	require.NoError(t, ts.store.InsertUser(context.Background(), user))
	token, err := ts.tokens.Sign(user)
	require.NoError(t, err)
	return user, token
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestHealthCheckFailing(t *testing.T) {
	ts := setupTestServer(t, func(cfg *Config) {
		cfg.Health = func(ctx context.Context) error {
			return errors.New("store unreachable")
		}
	})

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPlayground(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
}

func TestQueryAnonymous(t *testing.T) {
	ts := setupTestServer(t)

	code, resp := ts.post(t, "", `{ bookCount me { username } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"bookCount": 0, "me": null}`, string(resp.Data))

	code, resp = ts.post(t, "", `mutation { addBook(title: "Demons", author: "Fyodor Dostoevsky", published: 1872, genres: []) { id } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "UNAUTHENTICATED", resp.Errors[0].Extensions["code"])
}

func TestQueryWithBearerToken(t *testing.T) {
	ts := setupTestServer(t)
	_, token := ts.signedUser(t, "alice")

	code, resp := ts.post(t, token, `{ me { username favoriteGenre } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"me": {"username": "alice", "favoriteGenre": "crime"}}`, string(resp.Data))

	code, resp = ts.post(t, token, `mutation ($genres: [String!]!) { addBook(title: "Demons", author: "Fyodor Dostoevsky", published: 1872, genres: $genres) { author { name } } }`,
		map[string]any{"genres": []string{"classic"}})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"addBook": {"author": {"name": "Fyodor Dostoevsky"}}}`, string(resp.Data))
}

func TestLoginRoundTrip(t *testing.T) {
	ts := setupTestServer(t)
	ts.signedUser(t, "bob")

	code, resp := ts.post(t, "", `mutation { login(username: "bob", password: "secret") { value } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	var data struct {
		Login struct {
			Value string `json:"value"`
		} `json:"login"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	code, resp = ts.post(t, data.Login.Value, `{ me { username } }`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"me": {"username": "bob"}}`, string(resp.Data))
}

func TestInvalidTokenUnauthorized(t *testing.T) {
	ts := setupTestServer(t)

	code, _ := ts.post(t, "not-a-token", `{ bookCount }`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestComplexityLimit(t *testing.T) {
	ts := setupTestServer(t, func(cfg *Config) {
		cfg.ComplexityLimit = 5
	})

	_, resp := ts.post(t, "", `{ allBooks { title author { name } } }`, nil)
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0].Message, "complexity")

	code, resp := ts.post(t, "", `{ bookCount }`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Errors)
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/query", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://library.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://library.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketInit(t *testing.T) {
	ts := setupTestServer(t)
	user, token := ts.signedUser(t, "carol")

	ctx, payload, err := ts.srv.websocketInit(context.Background(), transport.InitPayload{"Authorization": "Bearer " + token})
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.NotNil(t, auth.CurrentUser(ctx))
	assert.Equal(t, user.ID, auth.CurrentUser(ctx).ID)

	ctx, _, err = ts.srv.websocketInit(context.Background(), transport.InitPayload{})
	require.NoError(t, err)
	assert.Nil(t, auth.CurrentUser(ctx))

	_, _, err = ts.srv.websocketInit(context.Background(), transport.InitPayload{"Authorization": "Bearer broken"})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
