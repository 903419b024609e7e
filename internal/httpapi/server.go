// Package httpapi exposes position ingest, health and metrics over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/location"
	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
)

// PositionRequest is the body of POST /v1/users/{userID}/position.
// Foreground and Background default to true when omitted.
type PositionRequest struct {
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Foreground *bool      `json:"foreground,omitempty"`
	Background *bool      `json:"background,omitempty"`
}

// PositionResponse describes the stored fix.
type PositionResponse struct {
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
	Foreground bool      `json:"foreground"`
	Background bool      `json:"background"`
	Revoked    bool      `json:"revoked"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the HTTP surface.
type Server struct {
	book     *location.Book
	metrics  *metrics.Collector
	token    string
	logger   *zap.Logger
	validate *validator.Validate
}

func NewServer(book *location.Book, collector *metrics.Collector, token string, logger *zap.Logger) *Server {
	return &Server{
		book:     book,
		metrics:  collector,
		token:    token,
		logger:   logger.Named("http"),
		validate: validator.New(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1/users/{userID}/position", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.getPosition)
		r.Post("/", s.postPosition)
		r.Delete("/", s.deletePosition)
	})
	return r
}

// Run listens on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) postPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req PositionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	fix := location.Fix{
		Position: model.DevicePosition{
			Coordinate: geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		},
		Foreground: boolOr(req.Foreground, true),
		Background: boolOr(req.Background, true),
	}
	if req.Timestamp != nil {
		fix.Position.Timestamp = *req.Timestamp
	}

	stored := s.book.UpdateFix(userID, fix)
	s.metrics.PositionReceived()
	writeJSON(w, http.StatusAccepted, toResponse(userID, stored))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	fix, ok := s.book.Latest(userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no position for user"})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(userID, fix))
}

// deletePosition records that the device withdrew location access.
func (s *Server) deletePosition(w http.ResponseWriter, r *http.Request) {
	s.book.Revoke(chi.URLParam(r, "userID"))
	w.WriteHeader(http.StatusNoContent)
}

func toResponse(userID string, fix location.Fix) PositionResponse {
	return PositionResponse{
		UserID:     userID,
		Latitude:   fix.Position.Latitude,
		Longitude:  fix.Position.Longitude,
		Timestamp:  fix.Position.Timestamp,
		Foreground: fix.Foreground,
		Background: fix.Background,
		Revoked:    fix.Revoked,
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
