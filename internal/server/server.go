// Package server exposes an ExecutableSchema over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/vvakame/libraryql/internal/auth"
	"github.com/vvakame/libraryql/internal/log"
)

const keepAlivePingInterval = 10 * time.Second

type Config struct {
	Schema        graphql.ExecutableSchema
	Authenticator *auth.Authenticator
	Logger        logr.Logger

	CORSOrigins []string
	Playground  bool
	// ComplexityLimit rejects heavier operations. 0 disables the check.
	ComplexityLimit int
	// Health reports whether dependencies are usable. Optional.
	Health func(ctx context.Context) error
}

type Server struct {
	router *chi.Mux
	gql    *handler.Server
	authn  *auth.Authenticator
	logger logr.Logger
	health func(ctx context.Context) error
}

func New(cfg Config) (*Server, error) {
	if cfg.Schema == nil {
		return nil, errors.New("server: schema is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("server: authenticator is required")
	}

	s := &Server{
		router: chi.NewRouter(),
		authn:  cfg.Authenticator,
		logger: cfg.Logger,
		health: cfg.Health,
	}
	s.gql = s.newGraphQLHandler(cfg)

	s.setupMiddleware(cfg)
	s.setupRoutes(cfg)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newGraphQLHandler(cfg Config) *handler.Server {
	srv := handler.New(cfg.Schema)

	srv.AddTransport(transport.Websocket{
		KeepAlivePingInterval: keepAlivePingInterval,
		InitFunc:              s.websocketInit,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	srv.Use(extension.Introspection{})
	if cfg.ComplexityLimit > 0 {
		srv.Use(extension.FixedComplexityLimit(cfg.ComplexityLimit))
	}

	srv.SetRecoverFunc(func(ctx context.Context, err any) error {
		log.FromContext(ctx).Error(fmt.Errorf("%v", err), "panic while serving graphql")
		return gqlerror.Errorf("internal system error")
	})

	return srv
}

// websocketInit authenticates subscriptions from the connection_init
// payload, since browsers cannot set headers on a WebSocket upgrade.
func (s *Server) websocketInit(ctx context.Context, initPayload transport.InitPayload) (context.Context, *transport.InitPayload, error) {
	if auth.CurrentUser(ctx) != nil {
		return ctx, &initPayload, nil
	}
	user, err := s.authn.Authenticate(ctx, initPayload.Authorization())
	if err != nil {
		log.FromContext(ctx).V(1).Info("rejecting websocket", "reason", err.Error())
		return ctx, nil, err
	}
	if user != nil {
		ctx = auth.WithCurrentUser(ctx, user)
	}
	return ctx, &initPayload, nil
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.Get("/health", s.handleHealthCheck)

	if cfg.Playground {
		s.router.Handle("/", playground.Handler("libraryql", "/query"))
	}

	s.router.With(s.authn.Middleware).Handle("/query", s.gql)
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			log.FromContext(ctx).Error(err, "health check failed")
			resp = healthResponse{Status: "unavailable", Error: err.Error()}
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
