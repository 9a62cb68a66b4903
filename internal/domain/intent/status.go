package intent

// Status is the ledger-side lifecycle label of an intent.
type Status string

const (
	StatusBroadcasted      Status = "BROADCASTED"
	StatusAccepted         Status = "ACCEPTED"
	StatusEscrowLocked     Status = "ESCROW_LOCKED"
	StatusExecutionStarted Status = "EXECUTION_STARTED"
	StatusProofSubmitted   Status = "PROOF_SUBMITTED"
	StatusSettled          Status = "SETTLED"
	StatusUnknown          Status = "UNKNOWN"
)

var statusLabels = map[int64]Status{
	0: StatusBroadcasted,
	1: StatusAccepted,
	2: StatusEscrowLocked,
	3: StatusExecutionStarted,
	4: StatusProofSubmitted,
	5: StatusSettled,
}

// StatusFromCode maps an on-chain status code to its label.
func StatusFromCode(code int64) Status {
	if s, ok := statusLabels[code]; ok {
		return s
	}
	return StatusUnknown
}

// Code returns the on-chain code of a status, or -1 for UNKNOWN.
func (s Status) Code() int64 {
	for code, label := range statusLabels {
		if label == s {
			return code
		}
	}
	return -1
}

// ExecutionStatus is a read-back snapshot of an intent.
type ExecutionStatus struct {
	IntentID         uint64 `json:"intentId"`
	StatusCode       int64  `json:"statusCode"`
	Status           Status `json:"status"`
	Requester        string `json:"requester"`
	Executor         string `json:"executor"`
	Value            string `json:"value"`
	Disputed         bool   `json:"disputed"`
	FallbackResolved bool   `json:"fallbackResolved"`
	MerkleRoot       string `json:"merkleRoot"`
}

// Stage is an orchestration milestone recorded in a run's trace.
type Stage string

const (
	StageIdentityReady     Stage = "IDENTITY_READY"
	StageIntentBroadcasted Stage = "INTENT_BROADCASTED"
	StageRouteConfigured   Stage = "ROUTE_CONFIGURED"
	StageEscrowLocked      Stage = "ESCROW_LOCKED"
	StageExecutionStarted  Stage = "EXECUTION_STARTED"
	StageTraceCommitted    Stage = "TRACE_COMMITTED"
	StageDisputeOpened     Stage = "DISPUTE_OPENED"
	StageSettled           Stage = "SETTLED"
	StageFailed            Stage = "FAILED"
)
