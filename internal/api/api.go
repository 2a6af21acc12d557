// Package api provides HTTP handlers and the main API server logic for the
// intake bot.
//
// It exposes the chat widget endpoints, the WhatsApp webhooks and the clinic's
// consultation admin endpoints. The API integrates with the flow engine, the
// messaging services and the store.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/footcare-clinic/intakebot/internal/flow"
	"github.com/footcare-clinic/intakebot/internal/messaging"
	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/footcare-clinic/intakebot/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds request handling, sized to cover a side
	// effect running against the AI adapters
	DefaultRequestTimeout = 60 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
	Widget      models.WidgetConfig
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the Meta webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithWidgetConfig sets the chat widget embed configuration.
func WithWidgetConfig(cfg models.WidgetConfig) Option {
	return func(o *Opts) { o.Widget = cfg }
}

// Server wires the conversation engine, store and messaging service into the
// HTTP surface.
type Server struct {
	engine      *flow.Engine
	graph       *flow.Graph
	st          store.Store
	msgService  messaging.Service
	responder   *messaging.Responder
	widget      *widgetSessions
	widgetCfg   models.WidgetConfig
	verifyToken string
	addr        string
	httpServer  *http.Server
}

// NewServer creates the API server. The messaging service and responder may be
// nil when the bot runs widget-only.
func NewServer(engine *flow.Engine, graph *flow.Graph, st store.Store, msgService messaging.Service, responder *messaging.Responder, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("api.NewServer: creating server", "addr", cfg.Addr, "verify_token_set", cfg.VerifyToken != "")
	return &Server{
		engine:      engine,
		graph:       graph,
		st:          st,
		msgService:  msgService,
		responder:   responder,
		widget:      newWidgetSessions(),
		widgetCfg:   cfg.Widget,
		verifyToken: cfg.VerifyToken,
		addr:        cfg.Addr,
	}
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(DefaultRequestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(api chi.Router) {
		api.Route("/chat", func(c chi.Router) {
			c.Get("/config", s.widgetConfigHandler)
			c.Post("/session", s.createSessionHandler)
			c.Get("/session/{sessionID}", s.getSessionHandler)
			c.Post("/session/{sessionID}/message", s.postMessageHandler)
			c.Post("/session/{sessionID}/image", s.postImageHandler)
		})
		api.Route("/consultations", func(c chi.Router) {
			c.Get("/", s.listConsultationsHandler)
			c.Get("/export", s.exportConsultationsHandler)
		})
	})

	r.Get("/webhook/whatsapp", s.webhookVerifyHandler)
	r.Post("/webhook/whatsapp", s.webhookReceiveHandler)
	if ts, ok := s.msgService.(*messaging.TwilioService); ok {
		r.Post("/webhook/twilio", ts.WebhookHandler)
	}

	return r
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:     s.addr,
		Handler:  s.Router(),
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Server.Run: starting API server", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("api.Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, models.SuccessWithMessage("healthy", map[string]string{"time": time.Now().Format(time.RFC3339)}))
}

func (s *Server) widgetConfigHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, models.Success(s.widgetCfg))
}
