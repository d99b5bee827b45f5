package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ton-escrow-ledger-go/internal/api"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	timeout         = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Ledger is the read-only part of api.LedgerService the admin surface uses
type Ledger interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	HealthCheck(ctx context.Context) error
	GetBalanceByAddress(ctx context.Context, address string) (*api.BalanceResponse, error)
}

// Response is the error body returned to clients
type Response struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server exposes health, status and metrics to operators
type Server struct {
	ledger Ledger
	srv    *http.Server
}

func NewServer(addr string, ledger Ledger) *Server {
	s := &Server{ledger: ledger}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/balance/{address}", s.balanceHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		zap.L().Info("Admin server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Admin server shutdown failed", zap.Error(err))
		return err
	}
	zap.L().Info("Admin server stopped")
	return nil
}

func (s *Server) healthHandler(rw http.ResponseWriter, r *http.Request) {
	if err := s.ledger.HealthCheck(r.Context()); err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(rw http.ResponseWriter, r *http.Request) {
	status, err := s.ledger.Status(r.Context())
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, status)
}

func (s *Server) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.GetBalanceByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, balance)
}

func writeError(rw http.ResponseWriter, err error) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		apiErr = &api.Error{Kind: api.KindSystem, Code: api.CodeInternal, Message: "internal error", Err: err}
	}
	if apiErr.Kind == api.KindSystem {
		zap.L().Error("Admin request failed", zap.Error(err))
	}
	writeJSON(rw, apiErr.HTTPStatus(), Response{Error: apiErr.Message, Code: apiErr.Code})
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}
