package graph

import (
	"errors"

	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/pubsub"
	"github.com/vvakame/libraryql/internal/ratelimit"
	"github.com/vvakame/libraryql/internal/store"
	"github.com/vvakame/libraryql/internal/validation"
)

// This file will not be regenerated automatically.
//
// It serves as dependency injection for your app, add any dependencies you require here.

type Config struct {
	Store  store.Store
	Events *pubsub.PubSub
	Tokens *auth.TokenService
	// LoginPassword is the password every user logs in with.
	// TODO replace with per-user password hashes once createUser takes a password.
	LoginPassword string
	// LoginLimiter throttles login attempts per username. Optional.
	LoginLimiter *ratelimit.KeyedRateLimiter
}

type Resolver struct {
	store         store.Store
	events        *pubsub.PubSub
	tokens        *auth.TokenService
	validator     *validation.Validator
	loginPassword string
	loginLimiter  *ratelimit.KeyedRateLimiter
}

func NewResolver(cfg Config) (*Resolver, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("graph: store is required")
	case cfg.Events == nil:
		return nil, errors.New("graph: events is required")
	case cfg.Tokens == nil:
		return nil, errors.New("graph: token service is required")
	case cfg.LoginPassword == "":
		return nil, errors.New("graph: login password is required")
	}

	return &Resolver{
		store:         cfg.Store,
		events:        cfg.Events,
		tokens:        cfg.Tokens,
		validator:     validation.New(),
		loginPassword: cfg.LoginPassword,
		loginLimiter:  cfg.LoginLimiter,
	}, nil
}

type queryResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
type bookResolver struct{ *Resolver }
type authorResolver struct{ *Resolver }
