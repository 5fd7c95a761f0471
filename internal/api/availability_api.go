package api

import (
	"errors"
	"net/http"
	"strconv"

	"nilecruise/internal/availability"
	"nilecruise/internal/metrics"
	"nilecruise/internal/models"
)

// AvailabilityRequest is the request body for POST /api/availability.
type AvailabilityRequest struct {
	UnitID               int64  `json:"unitId" validate:"required,gt=0"`
	StartDate            string `json:"startDate" validate:"required,datetime=2006-01-02"` // Format: YYYY-MM-DD
	EndDate              string `json:"endDate" validate:"required,datetime=2006-01-02"`   // exclusive
	Guests               int    `json:"guests" validate:"gte=0,lte=1000"`
	ExcludeReservationID int64  `json:"excludeReservationId,omitempty" validate:"gte=0"`
}

func (req *AvailabilityRequest) query() (models.AvailabilityQuery, error) {
	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return models.AvailabilityQuery{}, err
	}
	end, err := models.ParseDate(req.EndDate)
	if err != nil {
		return models.AvailabilityQuery{}, err
	}
	return models.AvailabilityQuery{
		UnitID:               req.UnitID,
		StartDate:            start,
		EndDate:              end,
		Guests:               req.Guests,
		ExcludeReservationID: req.ExcludeReservationID,
	}, nil
}

// CalendarResponse is the response for GET /api/units/{id}/calendar.
type CalendarResponse struct {
	UnitID int64                             `json:"unitId"`
	Month  int                               `json:"month"`
	Year   int                               `json:"year"`
	Days   map[string]models.DayAvailability `json:"days"`
}

// handleAvailability checks whether a unit can be booked.
// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req AvailabilityRequest
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

	res, err := s.availability.CheckAvailability(r.Context(), q)
	if err != nil {
		writeInternal(w)
		return
	}

	status := http.StatusOK
	switch res.Code {
	case models.CodeValidation:
		status = http.StatusBadRequest
	case models.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}

// handleCalendar returns per-date availability of a unit for one month.
// GET /api/units/{id}/calendar?month=MM&year=YYYY
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("calendar")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	unitID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || unitID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid unit id")
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month is required")
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year is required")
		return
	}

	days, err := s.availability.GetCalendar(r.Context(), unitID, month, year)
	switch {
	case err == nil:
	case errors.Is(err, availability.ErrInvalidCalendar):
		writeError(w, http.StatusBadRequest, "invalid month or year")
		return
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "unit not found")
		return
	default:
		s.logger.Error().Err(err).Int64("unit_id", unitID).Msg("calendar failed")
		writeInternal(w)
		return
	}

	writeJSON(w, http.StatusOK, CalendarResponse{UnitID: unitID, Month: month, Year: year, Days: days})
}
