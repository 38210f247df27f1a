// Package gateway exposes the credit engine over HTTP.
package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/crosslogic/credit-plane/internal/billing"
	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gateway handles API requests for the credit plane.
type Gateway struct {
	engine         *credits.Engine
	webhookHandler *billing.WebhookHandler
	logger         *zap.Logger
	router         *chi.Mux
	adminToken     string
}

// NewGateway creates the API gateway. webhookHandler may be nil when Stripe
// is not configured.
func NewGateway(engine *credits.Engine, webhookHandler *billing.WebhookHandler, adminToken string, logger *zap.Logger) *Gateway {
	g := &Gateway{
		engine:         engine,
		webhookHandler: webhookHandler,
		logger:         logger,
		router:         chi.NewRouter(),
		adminToken:     adminToken,
	}

	g.setupRoutes()
	return g
}

// Router returns the configured http handler.
func (g *Gateway) Router() http.Handler {
	return g.router
}

func (g *Gateway) setupRoutes() {
	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.RealIP)
	g.router.Use(g.loggerMiddleware)
	g.router.Use(middleware.Recoverer)
	g.router.Use(middleware.Timeout(30 * time.Second))

	g.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://*.crosslogic.ai"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	g.router.Handle("/metrics", promhttp.Handler())
	g.router.Get("/health", g.handleHealth)

	// Stripe verifies itself via signatures, not bearer auth.
	if g.webhookHandler != nil {
		g.router.Post("/api/webhooks/stripe", g.webhookHandler.HandleWebhook)
	}

	g.router.Group(func(r chi.Router) {
		r.Use(g.authMiddleware)

		r.Get("/v1/workspaces/{workspace_id}/balance", g.handleGetBalance)
		r.Post("/v1/workspaces/{workspace_id}/reserve", g.handleReserve)
		r.Post("/v1/workspaces/{workspace_id}/debit", g.handleDebit)
		r.Post("/v1/workspaces/{workspace_id}/credit", g.handleCredit)

		r.Post("/v1/reservations/{reservation_id}/adjust", g.handleAdjust)
		r.Post("/v1/reservations/{reservation_id}/finalize", g.handleFinalize)
		r.Post("/v1/reservations/{reservation_id}/refund", g.handleRefund)
	})
}

// authMiddleware requires the shared admin bearer token. The credit plane
// is an internal service; per-tenant auth happens at the public edge.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			g.writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.adminToken)) != 1 {
			g.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
