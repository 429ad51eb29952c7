package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/chore"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type ChoreHandler struct {
	chores   *chore.Service
	children *store.ChildStore
	logger   *slog.Logger
}

func NewChoreHandler(db *sql.DB, chores *chore.Service, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{chores: chores, children: store.NewChildStore(db), logger: logger}
}

// List returns live chores. Children only see chores assigned to them;
// parents can filter with ?child_id=, ?status= and ?templates=true.
func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	q := r.URL.Query()
	var f chore.Filter

	if caller.IsParent() {
		if v := q.Get("child_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, h.logger, apperr.Invalid("invalid child_id"))
				return
			}
			f.ChildID = &id
		}
		f.IncludeTemplates = q.Get("templates") == "true"
	} else {
		id := caller.ChildID
		f.ChildID = &id
	}
	if v := q.Get("status"); v != "" {
		st, err := chore.ParseStatus(v)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		f.Status = &st
	}

	list, err := h.chores.List(r.Context(), caller.FamilyID, f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in chore.Input
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.chores.Create(r.Context(), identity(r).FamilyID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var in chore.Input
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.chores.Update(r.Context(), identity(r).FamilyID, id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.chores.Delete(r.Context(), identity(r).FamilyID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChoreHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req struct {
		ChildID int64  `json:"child_id"`
		PIN     string `json:"pin"`
		chore.Submission
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

	c, err := h.chores.Submit(r.Context(), identity(r).FamilyID, id, childID, req.Submission)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.chores.Approve)
}

func (h *ChoreHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.chores.Reject)
}

func (h *ChoreHandler) review(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, familyID, choreID int64) (*model.Chore, error)) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := fn(r.Context(), identity(r).FamilyID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
