package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/libraryql/internal/model"
)

type users map[string]*model.User

func (u users) FindUserByID(_ context.Context, id string) (*model.User, error) {
	return u[id], nil
}

var alice = &model.User{ID: "u1", Username: "alice", FavoriteGenre: "refactoring"}

func TestSignAndVerify(t *testing.T) {
	ts, err := NewTokenService("s3cr3t", 0)
	require.NoError(t, err)

	token, err := ts.Sign(alice)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "u1", claims.ID)
	assert.NotNil(t, claims.IssuedAt)
	assert.Nil(t, claims.ExpiresAt)
}

func TestVerifyRejects(t *testing.T) {
	ts, err := NewTokenService("s3cr3t", time.Hour)
	require.NoError(t, err)
	token, err := ts.Sign(alice)
	require.NoError(t, err)

	other, err := NewTokenService("another", 0)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.Error(t, err, "wrong secret")

	ts.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = ts.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{ID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = other.Verify(none)
	assert.Error(t, err, "alg none")
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("", 0)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	ts, err := NewTokenService("s3cr3t", 0)
	require.NoError(t, err)
	authn := NewAuthenticator(ts, users{"u1": alice})

	token, err := ts.Sign(alice)
	require.NoError(t, err)
	stale, err := ts.Sign(&model.User{ID: "deleted", Username: "bob"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   *model.User
	}{
		{"anonymous", "", http.StatusOK, nil},
		{"bearer", "Bearer " + token, http.StatusOK, alice},
		{"lowercase scheme", "bearer " + token, http.StatusOK, alice},
		{"unknown user", "Bearer " + stale, http.StatusOK, nil},
		{"garbage", "Bearer nope", http.StatusUnauthorized, nil},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *model.User
			h := authn.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = CurrentUser(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/query", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, got)
		})
	}
}

func TestCurrentUserAnonymous(t *testing.T) {
	assert.Nil(t, CurrentUser(context.Background()))
	assert.Equal(t, alice, CurrentUser(WithCurrentUser(context.Background(), alice)))
}
