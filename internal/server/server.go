package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/cache"
	"github.com/dukerupert/chorebank/internal/checkout"
	"github.com/dukerupert/chorebank/internal/chore"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/handler"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/middleware"
	"github.com/dukerupert/chorebank/internal/reward"
	"github.com/dukerupert/chorebank/internal/scheduler"
	"github.com/dukerupert/chorebank/internal/subscription"
	ws "github.com/dukerupert/chorebank/internal/websocket"
)

// Deps are the services the HTTP layer fronts. Webhooks may be nil, which
// leaves the payment webhook unrouted.
type Deps struct {
	DB          *sql.DB
	Bus         *events.Bus
	Ledger      *ledger.Service
	Chores      *chore.Service
	Rewards     *reward.Service
	Coupons     *coupon.Engine
	Subs        *subscription.Manager
	Checkout    *checkout.Service
	Scheduler   *scheduler.Scheduler
	Snapshots   *cache.Snapshots
	Tokens      *auth.Tokens
	Webhooks    handler.EventVerifier
	RateLimiter *middleware.RateLimiter

	AdminToken     string
	OriginPatterns []string
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	childH      *handler.ChildHandler
	choreH      *handler.ChoreHandler
	rewardH     *handler.RewardHandler
	billingH    *handler.BillingHandler
	adminH      *handler.AdminHandler
	webhookH    *handler.WebhookHandler
	tokens      *auth.Tokens
	rateLimiter *middleware.RateLimiter
	adminToken  string
	origins     []string
	logger      *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	d.Bus.Subscribe(d.Snapshots.Handle)
	d.Bus.Subscribe(hub.Handle)

	s := &Server{
		db:          d.DB,
		hub:         hub,
		childH:      handler.NewChildHandler(d.DB, d.Ledger, d.Snapshots, d.Bus, logger.With("component", "child")),
		choreH:      handler.NewChoreHandler(d.DB, d.Chores, logger.With("component", "chore")),
		rewardH:     handler.NewRewardHandler(d.DB, d.Rewards, logger.With("component", "reward")),
		billingH:    handler.NewBillingHandler(d.Checkout, d.Coupons, d.Subs, logger.With("component", "billing")),
		adminH:      handler.NewAdminHandler(d.DB, d.Coupons, d.Subs, d.Scheduler, d.Tokens, logger.With("component", "admin")),
		tokens:      d.Tokens,
		rateLimiter: d.RateLimiter,
		adminToken:  d.AdminToken,
		origins:     d.OriginPatterns,
		logger:      logger,
	}
	if d.Webhooks != nil {
		s.webhookH = handler.NewWebhookHandler(d.Webhooks, d.DB, d.Checkout, d.Subs, logger.With("component", "webhook"))
	}
	if s.rateLimiter == nil {
		s.rateLimiter = middleware.NewRateLimiter(10, 20)
	}
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", metrics.Handler())
	if s.webhookH != nil {
		outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	// Operator routes
	admin := middleware.RequireAdminToken(s.adminToken)
	outerMux.Handle("POST /api/admin/families", admin(http.HandlerFunc(s.adminH.CreateFamily)))
	outerMux.Handle("POST /api/admin/families/{id}/tokens", admin(http.HandlerFunc(s.adminH.IssueToken)))
	outerMux.Handle("POST /api/admin/families/{id}/subscription/extend", admin(http.HandlerFunc(s.adminH.Extend)))
	outerMux.Handle("POST /api/admin/coupons", admin(http.HandlerFunc(s.adminH.CreateCoupon)))
	outerMux.Handle("GET /api/admin/coupons", admin(http.HandlerFunc(s.adminH.ListCoupons)))
	outerMux.Handle("POST /api/admin/coupons/{id}/deactivate", admin(http.HandlerFunc(s.adminH.DeactivateCoupon)))
	outerMux.Handle("POST /api/admin/scheduler/tick", admin(http.HandlerFunc(s.adminH.Tick)))

	// Family routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireIdentity(s.tokens)(protectedMux))

	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP)(outerMux)
	return middleware.RequestLogger(s.logger.With("component", "http"))(limited)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func parent(h http.HandlerFunc) http.Handler {
	return middleware.RequireParent(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Family and children
	mux.HandleFunc("GET /api/family", s.childH.Family)
	mux.Handle("POST /api/children", parent(s.childH.Create))
	mux.Handle("PUT /api/children/{id}/pin", parent(s.childH.SetPIN))
	mux.Handle("DELETE /api/children/{id}", parent(s.childH.Delete))
	mux.HandleFunc("GET /api/children/{id}/balance", s.childH.Balance)
	mux.HandleFunc("GET /api/children/{id}/ledger", s.childH.Ledger)
	mux.Handle("POST /api/children/{id}/adjust", parent(s.childH.Adjust))
	mux.Handle("GET /api/ledger/audit", parent(s.childH.Audit))

	// Chores
	mux.HandleFunc("GET /api/chores", s.choreH.List)
	mux.Handle("POST /api/chores", parent(s.choreH.Create))
	mux.Handle("PUT /api/chores/{id}", parent(s.choreH.Update))
	mux.Handle("DELETE /api/chores/{id}", parent(s.choreH.Delete))
	mux.HandleFunc("POST /api/chores/{id}/submit", s.choreH.Submit)
	mux.Handle("POST /api/chores/{id}/approve", parent(s.choreH.Approve))
	mux.Handle("POST /api/chores/{id}/reject", parent(s.choreH.Reject))

	// Rewards
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.Handle("POST /api/rewards", parent(s.rewardH.Create))
	mux.Handle("PUT /api/rewards/{id}", parent(s.rewardH.Update))
	mux.Handle("DELETE /api/rewards/{id}", parent(s.rewardH.Delete))
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)
	mux.HandleFunc("GET /api/pending-rewards", s.rewardH.ListPending)
	mux.Handle("POST /api/pending-rewards/{id}/clear", parent(s.rewardH.Clear))
	mux.Handle("POST /api/pending-rewards/{id}/cancel", parent(s.rewardH.Cancel))

	// Billing
	mux.Handle("POST /api/coupons/validate", parent(s.billingH.ValidateCoupon))
	mux.Handle("POST /api/checkout/quote", parent(s.billingH.Quote))
	mux.Handle("POST /api/checkout", parent(s.billingH.Checkout))
	mux.Handle("GET /api/subscription", parent(s.billingH.Subscription))
	mux.Handle("POST /api/subscription/upgrade", parent(s.billingH.Checkout))
	mux.Handle("POST /api/subscription/downgrade", parent(s.billingH.Downgrade))
	mux.Handle("POST /api/subscription/cancel", parent(s.billingH.Cancel))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.origins, s.logger.With("component", "websocket")))
}
