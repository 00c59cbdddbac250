package auth

import (
	"context"

	"github.com/vvakame/libraryql/internal/model"
)

type contextKey string

const contextKeyUser contextKey = "currentUser"

// CurrentUser returns the authenticated user, or nil for anonymous callers.
func CurrentUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(contextKeyUser).(*model.User); ok {
		return user
	}
	return nil
}

func WithCurrentUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}
