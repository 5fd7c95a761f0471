package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"nilecruise/internal/booking"
	"nilecruise/internal/metrics"
	"nilecruise/internal/models"
)

// GuestRequest carries the guest's contact details.
type GuestRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Notes string `json:"notes,omitempty" validate:"max=2000"`
}

// ReservationRequest is the request body for POST /api/reservations.
type ReservationRequest struct {
	AvailabilityRequest
	Guest          GuestRequest `json:"guest"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty" validate:"max=128"`
}

// handleCreateReservation commits a new reservation.
// POST /api/reservations
func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_reservation")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	q, err := req.query()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = r.Header.Get("Idempotency-Key")
	}

	res, err := s.bookings.Commit(r.Context(), q, booking.GuestPayload{
		Guest: models.GuestDetails{
			Name:  req.Guest.Name,
			Email: req.Guest.Email,
			Phone: req.Guest.Phone,
			Notes: req.Guest.Notes,
		},
		IdempotencyKey: idemKey,
	})
	if err != nil {
		writeInternal(w)
		return
	}

	if res.Committed() {
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, res.Reservation)
		return
	}
	writeJSON(w, commitStatus(res.Result.Code), res.Result)
}

func commitStatus(code models.Code) int {
	switch code {
	case models.CodeAlreadyBooked, models.CodeConcurrentConflict, models.CodeCapacityExceeded:
		return http.StatusConflict
	case models.CodeValidation:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleGetReservation returns a reservation by numeric id or reference.
// GET /api/reservations/{id}
func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_reservation")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := r.PathValue("id")
	var (
		res *models.Reservation
		err error
	)
	if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
		res, err = s.bookings.Get(r.Context(), id)
	} else {
		res, err = s.bookings.GetByReference(r.Context(), raw)
	}
	if errors.Is(err, booking.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", raw).Msg("get reservation failed")
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/reservations/{id}/confirm
func (s *HTTPServer) handleConfirmReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("confirm_reservation")
	s.handleTransition(w, r, s.bookings.Confirm)
}

// POST /api/reservations/{id}/cancel
func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_reservation")
	s.handleTransition(w, r, s.bookings.Cancel)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) (*models.Reservation, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	res, err := apply(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "reservation was modified concurrently; retry")
	default:
		writeInternal(w)
	}
}
