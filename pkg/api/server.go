// Package api serves reconstructed day tables over REST. The tables are
// immutable once a day is committed, so the surface is read-only.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantops/tickrecon/pkg/batch"
	"github.com/quantops/tickrecon/pkg/recon"
)

// ResultReader is the slice of the result store the server needs.
type ResultReader interface {
	DayStats(day string) (batch.Stats, bool, error)
	LoadOrders(day, securityID string) ([]recon.OrderRecord, error)
	LoadTrades(day, securityID string) ([]recon.TradeRecord, error)
}

type Server struct {
	store  ResultReader
	router *mux.Router
	log    *zap.SugaredLogger
}

func NewServer(store ResultReader, log *zap.SugaredLogger) *Server {
	s := &Server{store: store, router: mux.NewRouter(), log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/days/{date}/stats", s.handleDayStats).Methods("GET")
	api.HandleFunc("/days/{date}/orders", s.handleDayOrders).Methods("GET")
	api.HandleFunc("/days/{date}/trades", s.handleDayTrades).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied; exported so tests
// can drive it without a listener.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	})
	return c.Handler(s.router)
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDayStats(w http.ResponseWriter, r *http.Request) {
	day := mux.Vars(r)["date"]
	stats, ok, err := s.store.DayStats(day)
	if err != nil {
		s.fail(w, day, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "day not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDayOrders(w http.ResponseWriter, r *http.Request) {
	day := mux.Vars(r)["date"]
	if !s.dayExists(w, day) {
		return
	}
	orders, err := s.store.LoadOrders(day, r.URL.Query().Get("security"))
	if err != nil {
		s.fail(w, day, err)
		return
	}
	if orders == nil {
		orders = []recon.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleDayTrades(w http.ResponseWriter, r *http.Request) {
	day := mux.Vars(r)["date"]
	if !s.dayExists(w, day) {
		return
	}
	trades, err := s.store.LoadTrades(day, r.URL.Query().Get("security"))
	if err != nil {
		s.fail(w, day, err)
		return
	}
	if trades == nil {
		trades = []recon.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) dayExists(w http.ResponseWriter, day string) bool {
	_, ok, err := s.store.DayStats(day)
	if err != nil {
		s.fail(w, day, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "day not found")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, day string, err error) {
	s.log.Errorw("request_failed", "day", day, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
