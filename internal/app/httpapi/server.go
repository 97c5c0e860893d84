package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// FlowEstimator is the request-facing slice of the flow component.
type FlowEstimator interface {
	Compute(ctx context.Context) (domain.FlowRate, error)
}

// CommandGateway is the request-facing slice of the command component.
type CommandGateway interface {
	SetValve(ctx context.Context, command string) (bool, error)
	SetMode(ctx context.Context, mode string) (domain.Mode, error)
}

// Params collects the server's dependencies.
type Params struct {
	Store        ports.TelemetryStore
	Flow         FlowEstimator
	Gateway      CommandGateway
	Obs          ports.Observability
	ViewerSocket http.Handler // WebSocket upgrade endpoint, may be nil

	APIKey       string
	QueryTimeout time.Duration
	Location     *time.Location // for the locale-formatted timestamp
}

// Server exposes the relay's request surface. All /api routes require the
// x-api-key header; the viewer socket and health endpoint do not.
type Server struct {
	store        ports.TelemetryStore
	flow         FlowEstimator
	gateway      CommandGateway
	obs          ports.Observability
	viewerSocket http.Handler
	apiKey       []byte
	queryTimeout time.Duration
	loc          *time.Location
}

func New(p Params) *Server {
	if p.QueryTimeout <= 0 {
		p.QueryTimeout = 5 * time.Second
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &Server{
		store:        p.Store,
		flow:         p.Flow,
		gateway:      p.Gateway,
		obs:          p.Obs,
		viewerSocket: p.ViewerSocket,
		apiKey:       []byte(p.APIKey),
		queryTimeout: p.QueryTimeout,
		loc:          p.Location,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.viewerSocket != nil {
		mux.Handle("GET /ws", s.viewerSocket)
	}

	mux.Handle("GET /api/data", s.auth(s.handleLatest))
	mux.Handle("GET /api/debit", s.auth(s.handleDebit))
	mux.Handle("POST /api/valve", s.auth(s.handleValve))
	mux.Handle("POST /api/mode", s.auth(s.handleMode))

	return mux
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := []byte(r.Header.Get("x-api-key"))
		if subtle.ConstantTimeCompare(key, s.apiKey) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

type latestResponse struct {
	TimestampUTC   time.Time `json:"timestamp_utc"`
	TimestampLocal string    `json:"timestamp_local"`
	WaterUsed      float64   `json:"water_used"`
	Electrovalve   bool      `json:"electrovalve"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	p, err := s.store.Latest(ctx, time.Hour)
	if errors.Is(err, domain.ErrNoData) {
		writeError(w, http.StatusNotFound, "no data found")
		return
	}
	if err != nil {
		s.obs.LogError("latest point query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, latestResponse{
		TimestampUTC:   p.Timestamp,
		TimestampLocal: p.Timestamp.In(s.loc).Format("02/01/2006 15:04:05"),
		WaterUsed:      p.WaterUsed,
		Electrovalve:   p.Electrovalve,
	})
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	rate, err := s.flow.Compute(ctx)
	if err != nil {
		s.obs.LogError("flow computation failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) handleValve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	open, err := s.gateway.SetValve(r.Context(), body.Command)
	if err != nil {
		s.writeCommandError(w, err, "valve command failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success      bool `json:"success"`
		Electrovalve bool `json:"electrovalve"`
	}{Success: true, Electrovalve: open})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := s.gateway.SetMode(r.Context(), body.Mode)
	if err != nil {
		s.writeCommandError(w, err, "mode change failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Mode    domain.Mode `json:"mode"`
	}{Success: true, Mode: mode})
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrValveLocked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.obs.LogError(logMsg, err)
		writeError(w, http.StatusInternalServerError, "mqtt publish failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
