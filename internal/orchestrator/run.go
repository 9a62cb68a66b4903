package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pramadanif/meshforge/internal/anomaly"
	"github.com/pramadanif/meshforge/internal/config"
	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/merkle"
	"github.com/pramadanif/meshforge/internal/risk"
)

// Untraced steps. They appear in stage reports but never in the stage trace.
const (
	StepIntentAccepted intent.Stage = "INTENT_ACCEPTED"
	StepProofSubmitted intent.Stage = "PROOF_SUBMITTED"
)

// run is the state of one Execute call.
type run struct {
	req   *intent.ExecutionRequest
	value decimal.Decimal

	intentID    uint64
	hasIntent   bool
	broadcasted bool
	status      *intent.ExecutionStatus

	result *Result
	log    *logrus.Entry
}

func (r *run) statusIs(s intent.Status) bool {
	return r.hasIntent && r.status != nil && r.status.Status == s
}

// stage describes one pipeline step. when is evaluated against the freshest
// status; action performs the ledger calls.
type stage struct {
	name     intent.Stage
	function string
	traced   bool
	// traceOnError records the stage in the trace even when action fails.
	traceOnError  bool
	refreshBefore bool
	refreshAfter  bool
	when          func(r *run) bool
	action        func(ctx context.Context, r *run) (*txOutcome, error)
}

// Execute runs req through the full intent lifecycle. The returned Result
// is never nil; on a fatal error it holds the partial run with a trailing
// FAILED stage.
func (o *Orchestrator) Execute(ctx context.Context, req *intent.ExecutionRequest) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	res := &Result{RunID: runID, StageTrace: []intent.Stage{}, StageReports: []StageReport{}}

	value, err := ParseValue(req.Value)
	if err != nil {
		return res, err
	}
	explicit, err := parseProfile(req.RiskProfile)
	if err != nil {
		return res, err
	}

	profile := risk.Resolve(explicit, req.FromRegion, req.ToRegion, value)
	res.RoutePlan = o.planner.Plan(req.FromRegion, req.ToRegion, value)
	res.RiskPolicy = risk.Derive(profile, value)
	res.Trust = config.ResolveTrust(o.cfg.Trust, req.TrustRequirements)

	r := &run{
		req:    req,
		value:  value,
		result: res,
		log: o.log.Component().WithFields(logrus.Fields{
			"run_id":       runID,
			"risk_profile": profile,
			"from_region":  req.FromRegion,
			"to_region":    req.ToRegion,
		}),
	}
	r.log.WithField("value", value.String()).Info("orchestration started")

	err = o.pipeline(ctx, r)
	res.FinalStatus = r.status

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		res.StageTrace = append(res.StageTrace, intent.StageFailed)
		r.log.WithError(err).Error("orchestration failed")
	} else {
		r.log.WithField("trace", res.StageTrace).
			WithField("relayed", res.Relayed).
			Info("orchestration finished")
	}
	o.metrics.RecordRun(string(profile), outcome, time.Since(start))
	return res, err
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run) error {
	metadataURI := r.req.MetadataURI
	if metadataURI == "" {
		metadataURI = o.cfg.DefaultMetadataURI
	}
	wallet, err := o.identity.resolve(ctx, metadataURI)
	if err != nil {
		o.record(r, stage{name: intent.StageIdentityReady}, OutcomeError, nil, err)
		return err
	}
	r.result.DelegatedIdentity = wallet
	o.record(r, stage{name: intent.StageIdentityReady}, OutcomeReached, nil, nil)
	r.result.StageTrace = append(r.result.StageTrace, intent.StageIdentityReady)
	r.log = r.log.WithField("wallet", wallet)

	if id := r.req.ExistingIntentID; id != nil {
		existing := *id
		r.intentID, r.hasIntent = existing, true
		r.result.IntentID = &existing
		r.log = r.log.WithField("intent_id", existing)
	}

	if err := o.drive(ctx, r, o.lifecycleStages(wallet)); err != nil {
		return err
	}

	finding := anomaly.Evaluate(len(r.req.ExecutionSteps), r.value, r.result.Trust, r.result.RoutePlan, r.result.RiskPolicy)
	r.result.Anomalous = r.result.Trust.AllowAutoDispute && finding.Anomalous
	r.result.AnomalySignals = finding.Signals()
	if finding.Anomalous {
		r.log.WithField("signals", finding.String()).
			WithField("auto_dispute", r.result.Trust.AllowAutoDispute).
			Info("execution anomaly detected")
	}

	if err := o.drive(ctx, r, o.resolutionStages(wallet)); err != nil {
		return err
	}

	if r.hasIntent {
		o.refreshStatus(ctx, r)
	}
	return nil
}

func (o *Orchestrator) lifecycleStages(wallet string) []stage {
	return []stage{
		{
			name:     intent.StageIntentBroadcasted,
			function: ledger.FnBroadcastIntent,
			traced:   true,
			when:     func(r *run) bool { return r.req.ExistingIntentID == nil },
			action: func(ctx context.Context, r *run) (*txOutcome, error) {
				return o.broadcast(ctx, r, wallet)
			},
		},
		{
			name:     StepIntentAccepted,
			function: ledger.FnAcceptIntent,
			when:     func(r *run) bool { return r.broadcasted && o.cfg.AutoAcceptIntent },
			action:   o.intentCall(wallet, ledger.FnAcceptIntent),
		},
		{
			name:         intent.StageRouteConfigured,
			function:     ledger.FnSetCrossBorderRoute,
			traced:       true,
			traceOnError: true,
			refreshAfter: true,
			when:         func(r *run) bool { return r.hasIntent },
			action: func(ctx context.Context, r *run) (*txOutcome, error) {
				return o.annotateRoute(ctx, r, wallet)
			},
		},
		{
			name:          StepIntentAccepted,
			function:      ledger.FnAcceptIntent,
			refreshBefore: true,
			refreshAfter:  true,
			when: func(r *run) bool {
				return o.cfg.AutoAcceptIntent && r.statusIs(intent.StatusBroadcasted)
			},
			action: o.intentCall(wallet, ledger.FnAcceptIntent),
		},
		{
			name:         intent.StageEscrowLocked,
			function:     ledger.FnLockEscrow,
			traced:       true,
			refreshAfter: true,
			when:         func(r *run) bool { return r.statusIs(intent.StatusAccepted) },
			action:       o.intentCall(wallet, ledger.FnLockEscrow),
		},
		{
			name:         intent.StageExecutionStarted,
			function:     ledger.FnStartExecution,
			traced:       true,
			refreshAfter: true,
			when:         func(r *run) bool { return r.statusIs(intent.StatusEscrowLocked) },
			action:       o.intentCall(wallet, ledger.FnStartExecution),
		},
		{
			name:         StepProofSubmitted,
			function:     ledger.FnSubmitProof,
			refreshAfter: true,
			when:         func(r *run) bool { return r.statusIs(intent.StatusExecutionStarted) },
			action: func(ctx context.Context, r *run) (*txOutcome, error) {
				gps, photo := proofHashes(r.intentID, r.result.RoutePlan)
				return o.call(ctx, r, wallet, ledger.FnSubmitProof, r.intentID, [32]byte(gps), [32]byte(photo))
			},
		},
		{
			name:     intent.StageTraceCommitted,
			function: ledger.FnCommitMerkleRoot,
			traced:   true,
			when: func(r *run) bool {
				return r.hasIntent && r.result.Trust.RequireMerkleProof
			},
			action: func(ctx context.Context, r *run) (*txOutcome, error) {
				root := merkle.Root(r.req.ExecutionSteps)
				r.result.MerkleRoot = root.String()
				return o.call(ctx, r, wallet, ledger.FnCommitMerkleRoot, r.intentID, [32]byte(root), o.cfg.ProofStep)
			},
		},
	}
}

func (o *Orchestrator) resolutionStages(wallet string) []stage {
	return []stage{
		{
			name:          intent.StageDisputeOpened,
			function:      ledger.FnOpenDispute,
			traced:        true,
			refreshBefore: true,
			when: func(r *run) bool {
				return r.hasIntent && r.result.Anomalous && !r.statusIs(intent.StatusSettled)
			},
			action: func(ctx context.Context, r *run) (*txOutcome, error) {
				reason := "AUTO_DISPUTE:" + string(r.result.RiskPolicy.RiskProfile)
				out, err := o.call(ctx, r, wallet, ledger.FnOpenDispute, r.intentID, reason)
				if err == nil {
					o.metrics.RecordDispute(string(r.result.RiskPolicy.RiskProfile))
				}
				return out, err
			},
		},
		{
			name:          intent.StageSettled,
			function:      ledger.FnSettle,
			traced:        true,
			refreshBefore: true,
			when: func(r *run) bool {
				return !r.result.Anomalous && r.statusIs(intent.StatusProofSubmitted)
			},
			action: o.intentCall(wallet, ledger.FnSettle),
		},
	}
}

// drive evaluates stages in order. Non-fatal action errors are recorded and
// the pipeline continues.
func (o *Orchestrator) drive(ctx context.Context, r *run, stages []stage) error {
	for _, s := range stages {
		if s.refreshBefore && r.hasIntent {
			o.refreshStatus(ctx, r)
		}
		if !s.when(r) {
			o.record(r, s, OutcomeSkipped, nil, nil)
			continue
		}

		out, err := s.action(ctx, r)
		if err != nil {
			o.record(r, s, OutcomeError, out, err)
			if isFatal(err) {
				return err
			}
			r.log.WithError(err).WithField("stage", s.name).Warn("stage not reached")
			if s.traceOnError {
				r.result.StageTrace = append(r.result.StageTrace, s.name)
			}
		} else {
			o.record(r, s, OutcomeReached, out, nil)
			if s.traced {
				r.result.StageTrace = append(r.result.StageTrace, s.name)
			}
		}

		if s.refreshAfter && r.hasIntent {
			o.refreshStatus(ctx, r)
		}
	}
	return nil
}

func (o *Orchestrator) record(r *run, s stage, outcome Outcome, out *txOutcome, err error) {
	rep := StageReport{Stage: s.name, Function: s.function, Outcome: outcome}
	if out != nil {
		rep.TxHash = out.TxHash
		rep.Relayed = out.Relayed
	}
	if err != nil {
		rep.Error = err.Error()
	}
	r.result.StageReports = append(r.result.StageReports, rep)
	o.metrics.RecordStage(string(s.name), string(outcome))
}

// refreshStatus re-reads the intent. A failed read keeps the last known status.
func (o *Orchestrator) refreshStatus(ctx context.Context, r *run) {
	status, err := o.Status(ctx, r.intentID)
	if err != nil {
		r.log.WithError(err).Warn("status read failed, keeping last known status")
		return
	}
	r.status = status
}

// call submits fn(args...) from wallet and folds the relay flag into the result.
func (o *Orchestrator) call(ctx context.Context, r *run, wallet, fn string, args ...any) (*txOutcome, error) {
	out, err := o.transact(ctx, ledger.Call{From: wallet, Function: fn, Args: args})
	if out != nil && out.Relayed {
		r.result.Relayed = true
	}
	return out, err
}

// intentCall builds an action calling fn(intentID).
func (o *Orchestrator) intentCall(wallet, fn string) func(context.Context, *run) (*txOutcome, error) {
	return func(ctx context.Context, r *run) (*txOutcome, error) {
		return o.call(ctx, r, wallet, fn, r.intentID)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, r *run, wallet string) (*txOutcome, error) {
	fallback, err := o.ledger.IntentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read intent count: %w", err)
	}

	title := r.req.Title
	if title == "" {
		title = "Task: " + r.req.TaskType
	}
	description := r.req.Description
	if description == "" {
		description = defaultDescription(r.req, r.result.Trust)
	}

	out, err := o.call(ctx, r, wallet, ledger.FnBroadcastIntent, title, description, ledger.ToBaseUnits(r.value))
	if err != nil {
		return out, err
	}

	id, fromEvent := extractIntentID(out.Receipt, fallback)
	if !fromEvent {
		r.log.WithField("fallback_id", fallback).Warn("IntentBroadcasted event missing, using pre-broadcast counter")
	}
	r.intentID, r.hasIntent, r.broadcasted = id, true, true
	r.result.IntentID = &id
	r.log = r.log.WithField("intent_id", id)
	return out, nil
}

func (o *Orchestrator) annotateRoute(ctx context.Context, r *run, wallet string) (*txOutcome, error) {
	plan := r.result.RoutePlan
	if _, err := o.call(ctx, r, wallet, ledger.FnSetCrossBorderRoute,
		r.intentID, uint64(plan.SourceRegionCode), uint64(plan.DestinationRegionCode)); err != nil {
		return nil, err
	}

	src, dst := plan.SourceStable, plan.DestinationStable
	if p := r.req.Route; p != nil {
		if p.SourceStable != "" {
			src = p.SourceStable
		}
		if p.DestinationStable != "" {
			dst = p.DestinationStable
		}
	}
	return o.call(ctx, r, wallet, ledger.FnSetCrossBorderStablecoins, r.intentID, src, dst)
}

func defaultDescription(req *intent.ExecutionRequest, trust intent.TrustRequirements) string {
	b, err := json.Marshal(struct {
		TaskType          string                   `json:"taskType"`
		FromRegion        string                   `json:"fromRegion"`
		ToRegion          string                   `json:"toRegion"`
		TrustRequirements intent.TrustRequirements `json:"trustRequirements"`
	}{req.TaskType, req.FromRegion, req.ToRegion, trust})
	if err != nil {
		return req.TaskType
	}
	return string(b)
}

// parseProfile normalizes an explicit profile; empty means infer.
func parseProfile(p intent.RiskProfile) (intent.RiskProfile, error) {
	if p == "" {
		return "", nil
	}
	parsed, err := risk.ParseProfile(string(p))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return parsed, nil
}

// ParseValue parses a caller-supplied amount. Negative values and values
// above MaxValue are rejected.
func ParseValue(a intent.Amount) (decimal.Decimal, error) {
	v, err := a.Decimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s is negative", ErrInvalidValue, v)
	}
	if v.GreaterThan(MaxValue) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %s", ErrInvalidValue, v, MaxValue)
	}
	return v, nil
}
