package types

import (
	"encoding/json"
	"time"

	"cosmossdk.io/math"
)

// Provider is the identity record for a compute supplier. Providers are never
// hard-deleted; slash history and job counters form their reputation record.
type Provider struct {
	PeerID          string         `json:"peerId"`
	StakeAmount     math.LegacyDec `json:"stakeAmount"`
	TrustScore      math.LegacyDec `json:"trustScore"`
	SuccessRate     math.LegacyDec `json:"successRate"`
	TotalJobs       uint64         `json:"totalJobs"`
	SuccessfulJobs  uint64         `json:"successfulJobs"`
	SlashCount      uint64         `json:"slashCount"`
	ZkVerifiedCount uint64         `json:"zkVerifiedCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewProvider returns a fresh provider record with full trust and zero stake.
func NewProvider(peerID string, now time.Time) *Provider {
	return &Provider{
		PeerID:      peerID,
		StakeAmount: math.LegacyZeroDec(),
		TrustScore:  math.LegacyNewDec(100),
		SuccessRate: math.LegacyOneDec(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobOptions carries optional execution limits and dispatch overrides.
type JobOptions struct {
	MemoryLimitMb   uint64        `json:"memoryLimitMb,omitempty"`
	InstructionCap  uint64        `json:"instructionCap,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
	RequireReceipt  bool          `json:"requireReceipt,omitempty"`
	TargetPeerID    string        `json:"targetPeerId,omitempty"`
}

// Job is a unit of requested work, consumed exactly once by the scheduler.
type Job struct {
	JobID      string          `json:"jobId"`
	ProgramRef string          `json:"programRef"`
	Input      json.RawMessage `json:"input"`
	Options    *JobOptions     `json:"options,omitempty"`
}

// ExecutionResult is the outcome of a single job attempt. Immutable once
// created; Output is present iff Success, Error iff not.
type ExecutionResult struct {
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
	PeerID          string          `json:"peerId"`
	Receipt         *Receipt        `json:"receipt,omitempty"`
}

// Receipt is a tamper-evident record binding one execution's input, output
// and logs to the executing peer. The optional proof fields make it ZK-backed.
type Receipt struct {
	ReceiptID         string `json:"receiptId"`
	JobID             string `json:"jobId"`
	InputHash         string `json:"inputHash"`
	OutputHash        string `json:"outputHash"`
	LogsHash          string `json:"logsHash"`
	MerkleProof       string `json:"merkleProof"`
	Timestamp         int64  `json:"timestamp"`
	PeerID            string `json:"peerId"`
	ExecutionTimeMs   int64  `json:"executionTimeMs"`
	BlockHeightAnchor int64  `json:"blockHeightAnchor,omitempty"`

	// Proof fields, populated when the executor supplied a proof.
	Proof            string `json:"proof,omitempty"`
	PublicInputsRoot string `json:"publicInputsRoot,omitempty"`
	OutputRoot       string `json:"outputRoot,omitempty"`
	ProgramHash      string `json:"programHash,omitempty"`

	// ZkVerified is set at recording time when the attached proof passed
	// verification. A receipt whose proof was rejected stays false.
	ZkVerified bool `json:"zkVerified,omitempty"`
}

// ZkBacked reports whether the receipt carries a proof blob.
func (r *Receipt) ZkBacked() bool {
	return r.Proof != ""
}

// Proof is the cryptographic artifact attesting that a receipt's output was
// derived from its input under a given program. ProofBlob structure is
// backend-defined; the surrounding fields are backend-agnostic commitments.
type Proof struct {
	ProofBlob        string   `json:"proofBlob"`
	ProofSystem      string   `json:"proofSystem"`
	PublicInputs     []string `json:"publicInputs"`
	PublicInputsRoot string   `json:"publicInputsRoot"`
	OutputRoot       string   `json:"outputRoot"`
	ProgramHash      string   `json:"programHash"`
}

// VerificationResult is the structured outcome of proof verification.
// A malformed or mismatched proof yields Valid=false with a Reason; the
// verifier never panics or returns an error for well-formed-but-invalid proofs.
type VerificationResult struct {
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	VerifiedAt int64  `json:"verifiedAt"`
}

// SlashResult reports the applied economic state transition of a slash.
type SlashResult struct {
	PeerID        string         `json:"peerId"`
	SlashedAmount math.LegacyDec `json:"slashed"`
	NewStake      math.LegacyDec `json:"newStake"`
	NewTrustScore math.LegacyDec `json:"newTrustScore"`
	Reason        string         `json:"reason"`
}

// MiningClaim is an append-only settlement record. Claims are never edited
// after being written; each cites the cycle ids and receipts it settles.
type MiningClaim struct {
	ProviderID    string         `json:"providerId"`
	CycleID       string         `json:"cycleId"`
	CyclesClaimed uint64         `json:"cyclesClaimed"`
	ZkProofCount  uint64         `json:"zkProofCount"`
	RewardAmount  math.LegacyDec `json:"rewardCgt"`
	ReceiptIDs    []string       `json:"receiptIds,omitempty"`
	ClaimedAt     time.Time      `json:"claimedAt"`
}

// ClaimAggregate is the read-side summary of stored receipts for a provider.
type ClaimAggregate struct {
	ReceiptCount  int      `json:"receiptCount"`
	VerifiedCount int      `json:"verifiedCount"`
	TotalCycles   uint64   `json:"totalCycles"`
	ReceiptIDs    []string `json:"receiptIds"`
}

// MiningStats summarizes all claims recorded for a provider.
type MiningStats struct {
	TotalCycles    uint64         `json:"totalCycles"`
	TotalZkProofs  uint64         `json:"totalZkProofs"`
	TotalRewardCgt math.LegacyDec `json:"totalRewardCgt"`
	ClaimCount     uint64         `json:"claimCount"`
}

// PricingQuote is the requester-facing price for a number of cycles.
type PricingQuote struct {
	BasePrice          math.LegacyDec `json:"basePrice"`
	CycleRate          math.LegacyDec `json:"cycleRate"`
	ReputationDiscount math.LegacyDec `json:"reputationDiscount"`
	TrustScore         math.LegacyDec `json:"trustScore,omitempty"`
	Price              math.LegacyDec `json:"price"`
	Formula            string         `json:"formula"`
}

// PeerInfo describes a reachable peer as reported by the transport layer.
// ComputeScore is a transport-supplied capability ranking; higher is better.
type PeerInfo struct {
	PeerID       string  `json:"peerId"`
	ComputeScore float64 `json:"computeScore"`
}

// ComputeRequest is the wire envelope dispatching a job to a peer.
type ComputeRequest struct {
	RequestID   string `json:"requestId"`
	RequesterID string `json:"requesterId"`
	Job         *Job   `json:"job"`
}

// ComputeResponse correlates an execution result back to a pending dispatch.
type ComputeResponse struct {
	RequestID string           `json:"requestId"`
	Result    *ExecutionResult `json:"result"`
}
