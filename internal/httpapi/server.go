// Package httpapi exposes routing, risk, commitment and orchestration over
// JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/merkle"
	"github.com/pramadanif/meshforge/internal/metrics"
	"github.com/pramadanif/meshforge/internal/orchestrator"
	"github.com/pramadanif/meshforge/internal/risk"
	"github.com/pramadanif/meshforge/internal/routing"
	"github.com/pramadanif/meshforge/pkg/logger"
)

const defaultMaxBody = 1 << 20

var (
	errRateLimited     = errors.New("rate limit exceeded")
	errInternal        = errors.New("internal error")
	errNoOrchestrator  = errors.New("orchestration is not configured")
	errMissingSteps    = errors.New("executionSteps is required")
	errInvalidIntentID = errors.New("invalid intent id")
)

// Config configures the server.
type Config struct {
	// Orchestrator is optional; without it only the pure endpoints work.
	Orchestrator *orchestrator.Orchestrator
	Planner      routing.Planner
	Metrics      *metrics.Metrics
	Logger       *logger.Logger

	RatePerSecond float64
	Burst         int
	// TrustForwardedFor keys rate limits on X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustForwardedFor bool
	MaxRequestBody    int64
}

// Server is the MeshForge HTTP API.
type Server struct {
	orch    *orchestrator.Orchestrator
	planner routing.Planner
	metrics *metrics.Metrics
	log     *logger.Logger
	maxBody int64
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and middleware chain.
func NewServer(cfg Config) *Server {
	if cfg.Planner == nil {
		cfg.Planner = routing.Engine{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("httpapi")
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = defaultMaxBody
	}

	s := &Server{
		orch:    cfg.Orchestrator,
		planner: cfg.Planner,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		maxBody: cfg.MaxRequestBody,
		router:  mux.NewRouter(),
	}
	s.routes()

	limiter := NewRateLimiter(cfg.RatePerSecond, cfg.Burst, cfg.Logger)
	limiter.TrustForwardedFor = cfg.TrustForwardedFor
	s.router.Use(recoverer(cfg.Logger), requestLogger(cfg.Logger), limiter.Handler)
	s.handler = s.metrics.InstrumentHandler(s.router)
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/route", s.route).Methods(http.MethodPost)
	v1.HandleFunc("/risk", s.risk).Methods(http.MethodPost)
	v1.HandleFunc("/commitment", s.commitment).Methods(http.MethodPost)
	v1.HandleFunc("/execute", s.execute).Methods(http.MethodPost)
	v1.HandleFunc("/intents/{id:[0-9]+}", s.intentStatus).Methods(http.MethodGet)
	v1.HandleFunc("/intents/{id:[0-9]+}/verify", s.verifyStep).Methods(http.MethodPost)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":       "ok",
		"orchestrator": s.orch != nil,
	}
	if s.orch != nil {
		if wallet := s.orch.DelegatedIdentity(); wallet != "" {
			body["delegatedIdentity"] = wallet
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type routeRequest struct {
	TaskType   string        `json:"taskType"`
	Value      intent.Amount `json:"value"`
	FromRegion string        `json:"fromRegion"`
	ToRegion   string        `json:"toRegion"`
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, err := orchestrator.ParseValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.planner.Plan(req.FromRegion, req.ToRegion, value))
}

type riskRequest struct {
	RiskProfile string        `json:"riskProfile,omitempty"`
	Value       intent.Amount `json:"value"`
	FromRegion  string        `json:"fromRegion"`
	ToRegion    string        `json:"toRegion"`
}

func (s *Server) risk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, err := orchestrator.ParseValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var explicit intent.RiskProfile
	if req.RiskProfile != "" {
		if explicit, err = risk.ParseProfile(req.RiskProfile); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	profile := risk.Resolve(explicit, req.FromRegion, req.ToRegion, value)
	writeJSON(w, http.StatusOK, risk.Derive(profile, value))
}

type commitmentRequest struct {
	ExecutionSteps []intent.ExecutionStep `json:"executionSteps"`
	ProofIndex     *int                   `json:"proofIndex,omitempty"`
}

type commitmentResponse struct {
	MerkleRoot merkle.Hash   `json:"merkleRoot"`
	LeafCount  int           `json:"leafCount"`
	Proof      *merkle.Proof `json:"proof,omitempty"`
}

func (s *Server) commitment(w http.ResponseWriter, r *http.Request) {
	var req commitmentRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tree := merkle.Build(req.ExecutionSteps)
	resp := commitmentResponse{MerkleRoot: tree.Root(), LeafCount: tree.Len()}
	if req.ProofIndex != nil {
		proof, err := tree.Proof(*req.ProofIndex)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp.Proof = proof
	}
	writeJSON(w, http.StatusOK, resp)
}

type executeErrorResponse struct {
	Error  string               `json:"error"`
	Result *orchestrator.Result `json:"result,omitempty"`
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, errNoOrchestrator)
		return
	}
	var req intent.ExecutionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.orch.Execute(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, orchestrator.ErrInvalidValue), errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusBadGateway, executeErrorResponse{Error: err.Error(), Result: res})
	}
}

func (s *Server) intentStatus(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, errNoOrchestrator)
		return
	}
	id, err := intentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type verifyRequest struct {
	ExecutionSteps []intent.ExecutionStep `json:"executionSteps"`
	Index          int                    `json:"index"`
}

func (s *Server) verifyStep(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, errNoOrchestrator)
		return
	}
	id, err := intentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req verifyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.ExecutionSteps) == 0 {
		writeError(w, http.StatusBadRequest, errMissingSteps)
		return
	}

	ok, err := s.orch.VerifyStep(r.Context(), id, req.ExecutionSteps, req.Index)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intentId": id, "index": req.Index, "valid": ok})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func intentID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidIntentID, err)
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, merkle.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
