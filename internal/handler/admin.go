package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/scheduler"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/subscription"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// AdminHandler serves operator endpoints guarded by the admin token.
type AdminHandler struct {
	families *store.FamilyStore
	children *store.ChildStore
	coupons  *coupon.Engine
	subs     *subscription.Manager
	sched    *scheduler.Scheduler
	tokens   *auth.Tokens
	logger   *slog.Logger
}

func NewAdminHandler(db *sql.DB, coupons *coupon.Engine, subs *subscription.Manager, sched *scheduler.Scheduler, tokens *auth.Tokens, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		families: store.NewFamilyStore(db),
		children: store.NewChildStore(db),
		coupons:  coupons,
		subs:     subs,
		sched:    sched,
		tokens:   tokens,
		logger:   logger,
	}
}

// CreateFamily registers a family and returns a parent token for it.
func (h *AdminHandler) CreateFamily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ParentEmail string `json:"parent_email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, h.logger, apperr.Invalid("name is required"))
		return
	}

	f, err := h.families.Create(r.Context(), req.Name, strings.TrimSpace(req.ParentEmail))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	token, err := h.tokens.Issue(auth.Identity{FamilyID: f.ID, Role: auth.RoleParent}, defaultTokenTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("family created", "family_id", f.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"family": f, "token": token})
}

// IssueToken mints a parent or child token for an existing family.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	familyID, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req struct {
		Role       string `json:"role"`
		ChildID    int64  `json:"child_id"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	f, err := h.families.GetByID(r.Context(), familyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if f == nil {
		writeError(w, h.logger, apperr.NotFound("family %d not found", familyID))
		return
	}

	id := auth.Identity{FamilyID: familyID, Role: req.Role}
	switch req.Role {
	case auth.RoleParent:
	case auth.RoleChild:
		c, err := h.children.GetInFamily(r.Context(), familyID, req.ChildID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if c == nil {
			writeError(w, h.logger, apperr.NotFound("child %d not found", req.ChildID))
			return
		}
		id.ChildID = c.ID
	default:
		writeError(w, h.logger, apperr.Invalid("role must be parent or child"))
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	token, err := h.tokens.Issue(id, ttl)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

// Extend grants a family extra paid months, for support and promotions.
func (h *AdminHandler) Extend(w http.ResponseWriter, r *http.Request) {
	familyID, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req struct {
		Months   int    `json:"months"`
		OrderRef string `json:"order_ref"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sub, err := h.subs.Extend(r.Context(), familyID, subscription.ExtendParams{Months: req.Months, OrderRef: req.OrderRef})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *AdminHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var in coupon.CreateInput
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *AdminHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.coupons.Deactivate(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Tick runs the recurrence scheduler and renewal processing once for every
// family.
func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	spawned, err := h.sched.Tick(r.Context(), now)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	renewed, err := h.subs.ProcessRenewals(r.Context(), now)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if spawned == nil {
		spawned = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spawned": spawned, "renewals": renewed})
}
