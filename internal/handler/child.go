package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/cache"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type ChildHandler struct {
	children  *store.ChildStore
	ledger    *ledger.Service
	snapshots *cache.Snapshots
	pub       events.Publisher
	logger    *slog.Logger
}

func NewChildHandler(db *sql.DB, led *ledger.Service, snapshots *cache.Snapshots, pub events.Publisher, logger *slog.Logger) *ChildHandler {
	return &ChildHandler{
		children:  store.NewChildStore(db),
		ledger:    led,
		snapshots: snapshots,
		pub:       pub,
		logger:    logger,
	}
}

// Family returns the caller's family snapshot. It may lag a write by the
// cache TTL at most, and is dropped on every committed change.
func (h *ChildHandler) Family(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Get(r.Context(), identity(r).FamilyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if snap == nil {
		writeError(w, h.logger, apperr.NotFound("family not found"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ChildHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		PIN  string `json:"pin"`
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
	familyID := identity(r).FamilyID

	exists, err := h.children.NameExists(r.Context(), familyID, req.Name, 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if exists {
		writeError(w, h.logger, apperr.Invalid("a child named %s already exists", req.Name))
		return
	}

	var hash string
	if req.PIN != "" {
		if hash, err = hashPIN(req.PIN); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	child, err := h.children.Create(r.Context(), familyID, req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if hash != "" {
		if err := h.children.SetPIN(r.Context(), child.ID, hash); err != nil {
			writeError(w, h.logger, err)
			return
		}
		child.HasPIN = true
	}

	h.pub.Publish(events.Event{FamilyID: familyID, Entity: events.EntityChild, Action: "created", ID: child.ID})
	writeJSON(w, http.StatusCreated, child)
}

func (h *ChildHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	child, ok := h.child(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.PIN == "" {
		if err := h.children.ClearPIN(r.Context(), child.ID); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}

	hash, err := hashPIN(req.PIN)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.children.SetPIN(r.Context(), child.ID, hash); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (h *ChildHandler) Delete(w http.ResponseWriter, r *http.Request) {
	child, ok := h.child(w, r)
	if !ok {
		return
	}
	if err := h.children.Delete(r.Context(), child.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.pub.Publish(events.Event{FamilyID: child.FamilyID, Entity: events.EntityChild, Action: "deleted", ID: child.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChildHandler) Balance(w http.ResponseWriter, r *http.Request) {
	child, ok := h.child(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"child_id":        child.ID,
		"balance":         child.Balance,
		"lifetime_points": child.LifetimePoints,
		"xp":              child.XP,
		"lifetime_xp":     child.LifetimeXP,
	})
}

func (h *ChildHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	child, ok := h.child(w, r)
	if !ok {
		return
	}
	entries, err := h.ledger.History(r.Context(), child.FamilyID, child.ID, queryLimit(r, 50))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Adjust grants a bonus or applies a penalty.
func (h *ChildHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	child, ok := h.child(w, r)
	if !ok {
		return
	}
	var req struct {
		Type   string `json:"type"`
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	typ, err := model.ParseEntryType(req.Type)
	if err != nil || (typ != model.EntryBonus && typ != model.EntryPenalty) {
		writeError(w, h.logger, apperr.Invalid("type must be bonus or penalty"))
		return
	}
	if req.Amount <= 0 {
		writeError(w, h.logger, apperr.Invalid("amount must be positive"))
		return
	}
	amount := req.Amount
	if typ == model.EntryPenalty {
		amount = -amount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = strings.ToUpper(string(typ[:1])) + string(typ[1:])
	}

	entry, err := h.ledger.Append(r.Context(), child.FamilyID, child.ID, typ, amount, reason, model.Related{})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *ChildHandler) Audit(w http.ResponseWriter, r *http.Request) {
	drift, err := h.ledger.Audit(r.Context(), identity(r).FamilyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if drift == nil {
		drift = []model.BalanceDrift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"consistent": len(drift) == 0, "drift": drift})
}

// child loads the {id} child from the caller's family. Children may only
// see themselves.
func (h *ChildHandler) child(w http.ResponseWriter, r *http.Request) (*model.Child, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	caller := identity(r)
	if !caller.IsParent() && caller.ChildID != id {
		writeError(w, h.logger, apperr.Forbidden("children can only view themselves"))
		return nil, false
	}
	child, err := h.children.GetInFamily(r.Context(), caller.FamilyID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if child == nil {
		writeError(w, h.logger, apperr.NotFound("child %d", id))
		return nil, false
	}
	return child, true
}

func hashPIN(pin string) (string, error) {
	if len(pin) < 4 || len(pin) > 8 || !isDigits(pin) {
		return "", apperr.Invalid("PIN must be 4 to 8 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
