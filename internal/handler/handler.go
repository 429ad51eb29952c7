// Package handler exposes the chorebank services as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/store"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidTransition, apperr.KindExhausted, apperr.KindAlreadyUsed, apperr.KindConcurrencyConflict:
		return http.StatusConflict
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperr.KindExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// writeError reports err with the status of its kind. Errors without a kind
// are logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Reason: "internal error"})
		return
	}
	writeJSON(w, statusFor(kind), errorBody{Error: string(kind), Reason: apperr.Reason(err)})
}

func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperr.Invalid("invalid JSON")
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid id")
	}
	return id, nil
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// actingChild resolves which child a child-or-parent action is for. A
// child acts for itself and must confirm its PIN when one is set; a parent
// names the child in the request.
func actingChild(r *http.Request, children *store.ChildStore, requested int64, pin string) (int64, error) {
	id := identity(r)
	if id.IsParent() {
		if requested <= 0 {
			return 0, apperr.Invalid("child_id is required")
		}
		return requested, nil
	}

	if requested > 0 && requested != id.ChildID {
		return 0, apperr.Forbidden("children can only act for themselves")
	}
	hash, err := children.GetPINHash(r.Context(), id.ChildID)
	if err != nil {
		return 0, err
	}
	if hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		return 0, apperr.Forbidden("incorrect PIN")
	}
	return id.ChildID, nil
}
