package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vvakame/libraryql/internal/log"
	"github.com/vvakame/libraryql/internal/model"
)

// ErrInvalidToken covers malformed headers, bad signatures and expired tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// UserFinder is the part of the store the authenticator needs.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// Authenticator turns an Authorization value into the current user.
type Authenticator struct {
	tokens *TokenService
	users  UserFinder
}

func NewAuthenticator(tokens *TokenService, users UserFinder) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate resolves "Bearer <token>". An empty header yields (nil, nil).
// A valid token whose user no longer exists also yields (nil, nil).
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*model.User, error) {
	if header == "" {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, fmt.Errorf("%w: expected bearer token", ErrInvalidToken)
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := a.users.FindUserByID(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", claims.ID, err)
	}
	return user, nil
}

// Middleware attaches the current user to the request context. Requests
// without credentials pass through anonymously; bad credentials get a 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user, err := a.Authenticate(ctx, r.Header.Get("Authorization"))
		if errors.Is(err, ErrInvalidToken) {
			log.FromContext(ctx).V(1).Info("rejecting request", "reason", err.Error())
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		} else if err != nil {
			log.FromContext(ctx).Error(err, "failed to authenticate request")
			http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
			return
		}
		if user != nil {
			ctx = WithCurrentUser(ctx, user)
			ctx = log.WithLogger(ctx, log.FromContext(ctx).WithValues("user", user.Username))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
