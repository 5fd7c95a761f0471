package booking

import "nilecruise/internal/models"

// FSM holds the allowed reservation status transitions.
type FSM struct {
	transitions map[models.Status][]models.Status
}

// NewFSM returns the reservation lifecycle: PENDING may be confirmed or
// cancelled, CONFIRMED may be cancelled, CANCELLED is terminal.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.Status][]models.Status{
			models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
			models.StatusConfirmed: {models.StatusCancelled},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.Status) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
