package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/reward"
	"github.com/dukerupert/chorebank/internal/store"
)

type RewardHandler struct {
	rewards  *reward.Service
	children *store.ChildStore
	logger   *slog.Logger
}

func NewRewardHandler(db *sql.DB, rewards *reward.Service, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewards: rewards, children: store.NewChildStore(db), logger: logger}
}

// List returns the family's rewards. Children only see active ones they
// are eligible for.
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	list, err := h.rewards.List(r.Context(), caller.FamilyID, !caller.IsParent() || r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !caller.IsParent() {
		visible := make([]model.Reward, 0, len(list))
		for _, rw := range list {
			if rw.EligibleFor(caller.ChildID) {
				visible = append(visible, rw)
			}
		}
		list = visible
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in reward.Input
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	rw, err := h.rewards.Create(r.Context(), identity(r).FamilyID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rw)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var in reward.Input
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	rw, err := h.rewards.Update(r.Context(), identity(r).FamilyID, id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.rewards.Delete(r.Context(), identity(r).FamilyID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req struct {
		ChildID int64  `json:"child_id"`
		PIN     string `json:"pin"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	childID, err := actingChild(r, h.children, req.ChildID, req.PIN)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	pending, err := h.rewards.Redeem(r.Context(), identity(r).FamilyID, childID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

// ListPending returns redemptions, pending ones by default. A child only
// sees its own.
func (h *RewardHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	status := model.RedemptionPending
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := model.ParseRedemptionStatus(v)
		if err != nil && v != "all" {
			writeError(w, h.logger, apperr.Invalid("%v", err))
			return
		}
		status = st
	}

	list, err := h.rewards.ListPending(r.Context(), caller.FamilyID, status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !caller.IsParent() {
		mine := make([]model.PendingReward, 0, len(list))
		for _, p := range list {
			if p.ChildID == caller.ChildID {
				mine = append(mine, p)
			}
		}
		list = mine
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *RewardHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.rewards.ClearPending(r.Context(), identity(r).FamilyID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *RewardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.rewards.CancelPending(r.Context(), identity(r).FamilyID, id, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
