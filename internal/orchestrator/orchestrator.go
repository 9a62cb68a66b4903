// Package orchestrator turns one execution request into the sequence of
// IntentMesh ledger transactions that carries it from broadcast to dispute
// or settlement.
//
// A run is a best-effort pipeline. Each stage is attempted only when the
// freshly read intent status matches its prerequisite; a ledger rejection
// is recorded against the stage and the run moves on. Only identity
// provisioning, mandatory relay failures and malformed requests abort a run.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/config"
	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/metrics"
	"github.com/pramadanif/meshforge/internal/relay"
	"github.com/pramadanif/meshforge/internal/routing"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// DefaultProofStep is the step index recorded with a committed trace.
const DefaultProofStep uint64 = 3

const (
	defaultPollAttempts = 5
	defaultPollInterval = 2 * time.Second
)

var (
	// ErrIdentityUnavailable is returned when no delegated wallet exists
	// after provisioning and polling.
	ErrIdentityUnavailable = errors.New("delegated identity unavailable")
	// ErrRelayRequired is returned when the relay is mandatory and could
	// not accept a call.
	ErrRelayRequired = errors.New("x402 relay is required")
	// ErrInvalidValue is returned for unparseable, negative or oversized values.
	ErrInvalidValue = errors.New("invalid economic value")
	// ErrInvalidRequest is returned for malformed request fields other than the value.
	ErrInvalidRequest = errors.New("invalid execution request")
)

// MaxValue is the largest economic value a request may carry.
var MaxValue = decimal.New(1, 15)

// Config holds orchestrator dependencies and settings.
type Config struct {
	// Controller is the controlling key the delegated wallet belongs to.
	Controller string

	Ledger   ledger.Ledger
	Identity ledger.IdentityRegistry

	// Relay is optional; nil or unconfigured means direct submission.
	Relay   *relay.Client
	Planner routing.Planner
	Metrics *metrics.Metrics
	Logger  *logger.Logger

	DefaultMetadataURI   string
	AutoAcceptIntent     bool
	IdentityPollAttempts int
	IdentityPollInterval time.Duration
	ProofStep            uint64

	// Trust overrides the system defaults for every run; request-level
	// overrides are applied on top.
	Trust *intent.TrustOverrides
}

// Orchestrator runs execution requests against one ledger on behalf of one
// controlling key. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	ledger   ledger.Ledger
	planner  routing.Planner
	relay    *relay.Client
	metrics  *metrics.Metrics
	log      *logger.Logger
	identity *identityResolver
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity registry is required")
	}
	if cfg.Controller == "" {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.Planner == nil {
		cfg.Planner = routing.Engine{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("orchestrator")
	}
	if cfg.DefaultMetadataURI == "" {
		cfg.DefaultMetadataURI = config.DefaultMetadataURI
	}
	if cfg.IdentityPollAttempts <= 0 {
		cfg.IdentityPollAttempts = defaultPollAttempts
	}
	if cfg.IdentityPollInterval <= 0 {
		cfg.IdentityPollInterval = defaultPollInterval
	}
	if cfg.ProofStep == 0 {
		cfg.ProofStep = DefaultProofStep
	}

	return &Orchestrator{
		cfg:     cfg,
		ledger:  cfg.Ledger,
		planner: cfg.Planner,
		relay:   cfg.Relay,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		identity: &identityResolver{
			controller: cfg.Controller,
			registry:   cfg.Identity,
			ledger:     cfg.Ledger,
			attempts:   cfg.IdentityPollAttempts,
			interval:   cfg.IdentityPollInterval,
			log:        cfg.Logger,
		},
	}, nil
}

// Controller returns the controlling key of this orchestrator.
func (o *Orchestrator) Controller() string {
	return o.cfg.Controller
}

// Outcome is the recorded result of one stage.
type Outcome string

const (
	OutcomeReached Outcome = "reached"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// StageReport is the detailed record of one attempted or skipped stage.
type StageReport struct {
	Stage    intent.Stage `json:"stage"`
	Function string       `json:"function,omitempty"`
	Outcome  Outcome      `json:"outcome"`
	Error    string       `json:"error,omitempty"`
	TxHash   string       `json:"txHash,omitempty"`
	Relayed  bool         `json:"relayed,omitempty"`
}

// Result is returned by Execute. IntentID and FinalStatus are nil when no
// intent was created or read.
type Result struct {
	RunID             string                   `json:"runId"`
	IntentID          *uint64                  `json:"intentId"`
	DelegatedIdentity string                   `json:"delegatedIdentity"`
	RoutePlan         intent.RoutePlan         `json:"routePlan"`
	RiskPolicy        intent.RiskPolicy        `json:"riskPolicy"`
	Trust             intent.TrustRequirements `json:"trustRequirements"`
	MerkleRoot        string                   `json:"merkleRoot,omitempty"`
	Anomalous         bool                     `json:"anomalous"`
	AnomalySignals    []string                 `json:"anomalySignals,omitempty"`
	FinalStatus       *intent.ExecutionStatus  `json:"finalStatus"`
	StageTrace        []intent.Stage           `json:"stageTrace"`
	StageReports      []StageReport            `json:"stageReports"`
	Relayed           bool                     `json:"relayed"`
}

// Reached reports whether stage appears in the trace.
func (r *Result) Reached(stage intent.Stage) bool {
	for _, s := range r.StageTrace {
		if s == stage {
			return true
		}
	}
	return false
}
