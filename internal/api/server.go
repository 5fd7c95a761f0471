package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"nilecruise/internal/booking"
	"nilecruise/internal/models"
	"nilecruise/internal/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AvailabilityService is the read path the API exposes.
type AvailabilityService interface {
	CheckAvailability(ctx context.Context, q models.AvailabilityQuery) (*models.AvailabilityResult, error)
	GetCalendar(ctx context.Context, unitID int64, month, year int) (map[string]models.DayAvailability, error)
}

// BookingService is the write path the API exposes.
type BookingService interface {
	Commit(ctx context.Context, q models.AvailabilityQuery, guest booking.GuestPayload) (*booking.CommitResult, error)
	Confirm(ctx context.Context, id int64) (*models.Reservation, error)
	Cancel(ctx context.Context, id int64) (*models.Reservation, error)
	Get(ctx context.Context, id int64) (*models.Reservation, error)
	GetByReference(ctx context.Context, ref string) (*models.Reservation, error)
}

// Options configures the HTTP server.
type Options struct {
	Port           int
	APIKeys        []string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// HTTPServer serves the availability and reservation API.
type HTTPServer struct {
	availability AvailabilityService
	bookings     BookingService
	apiKeys      map[string]struct{}
	limiter      *clientLimiter
	timeout      time.Duration
	validate     *validator.Validate
	logger       zerolog.Logger
	srv          *http.Server
}

// NewHTTPServer wires the handlers. An empty APIKeys list disables the key
// check.
func NewHTTPServer(avail AvailabilityService, bookings BookingService, opts Options, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}

	keys := make(map[string]struct{}, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}

	s := &HTTPServer{
		availability: avail,
		bookings:     bookings,
		apiKeys:      keys,
		limiter:      newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		timeout:      opts.RequestTimeout,
		validate:     newValidator(),
		logger:       l,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/availability", s.handleAvailability)
	mux.HandleFunc("/api/units/{id}/calendar", s.handleCalendar)
	mux.HandleFunc("/api/reservations", s.handleCreateReservation)
	mux.HandleFunc("/api/reservations/{id}", s.handleGetReservation)
	mux.HandleFunc("/api/reservations/{id}/confirm", s.handleConfirmReservation)
	mux.HandleFunc("/api/reservations/{id}/cancel", s.handleCancelReservation)

	var h http.Handler = mux
	h = s.withTimeout(h)
	h = s.withRateLimit(h)
	h = s.withAPIKey(h)
	h = s.withRecover(h)
	return tracing.Middleware(h)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("API server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage renders the first failed rule of a payload.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("invalid %s format; expected YYYY-MM-DD", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "internal error")
}
