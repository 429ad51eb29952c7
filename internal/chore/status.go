package chore

import (
	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

// transitions lists the legal moves of a live chore. Approved is terminal.
var transitions = map[model.ChoreStatus][]model.ChoreStatus{
	model.ChoreAvailable: {model.ChoreSubmitted},
	model.ChoreSubmitted: {model.ChoreApproved, model.ChoreAvailable},
}

// ParseStatus validates a status received from a client.
func ParseStatus(s string) (model.ChoreStatus, error) {
	st, err := model.ParseChoreStatus(s)
	if err != nil {
		return "", apperr.Invalid("%v", err)
	}
	return st, nil
}

// CanTransition reports whether a chore in from may move to to.
func CanTransition(from, to model.ChoreStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(c *model.Chore, to model.ChoreStatus) error {
	if !CanTransition(c.Status, to) {
		return apperr.InvalidTransition("chore %d is %s, cannot become %s", c.ID, c.Status, to)
	}
	return nil
}
