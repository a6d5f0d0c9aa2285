// Package receipt produces and checks tamper-evident execution receipts.
package receipt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/abyssgrid/gridmarket/internal/hashing"
	"github.com/abyssgrid/gridmarket/internal/types"
)

// Generator builds receipts binding a job's input, output and logs to its
// executor. The clock is injectable for deterministic tests.
type Generator struct {
	clock func() time.Time
}

// NewGenerator creates a receipt generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{clock: time.Now}
}

// NewGeneratorWithClock creates a generator with a fixed clock for tests.
func NewGeneratorWithClock(clock func() time.Time) *Generator {
	return &Generator{clock: clock}
}

// Generate creates a receipt for one execution. If a proof is supplied its
// commitment fields are copied in and the receipt becomes ZK-backed.
func (g *Generator) Generate(
	jobID string,
	input, output json.RawMessage,
	logs []string,
	executionTimeMs int64,
	peerID string,
	blockHeightAnchor int64,
	proof *types.Proof,
) (*types.Receipt, error) {
	inputHash, err := hashing.HashCanonical(input)
	if err != nil {
		return nil, err
	}
	outputHash, err := hashing.HashCanonical(output)
	if err != nil {
		return nil, err
	}
	logsHash, err := hashing.HashJSON(logs)
	if err != nil {
		return nil, err
	}

	ts := g.clock().UnixMilli()

	// Single-level commitment over the execution's hashes; the receipt binds
	// exactly one job, so no full tree is needed here.
	merkleProof, err := hashing.HashJSON(map[string]interface{}{
		"inputHash":  inputHash,
		"outputHash": outputHash,
		"logsHash":   logsHash,
		"timestamp":  ts,
	})
	if err != nil {
		return nil, err
	}

	r := &types.Receipt{
		ReceiptID:         "receipt:" + uuid.NewString(),
		JobID:             jobID,
		InputHash:         inputHash,
		OutputHash:        outputHash,
		LogsHash:          logsHash,
		MerkleProof:       merkleProof,
		Timestamp:         ts,
		PeerID:            peerID,
		ExecutionTimeMs:   executionTimeMs,
		BlockHeightAnchor: blockHeightAnchor,
	}

	if proof != nil {
		r.Proof = proof.ProofBlob
		r.PublicInputsRoot = proof.PublicInputsRoot
		r.OutputRoot = proof.OutputRoot
		r.ProgramHash = proof.ProgramHash
	}

	return r, nil
}

// Verify recomputes the input and output hashes from the provided payloads
// and checks them against the receipt. This is a local integrity check only;
// correctness of the execution itself is the proof backend's job.
func Verify(r *types.Receipt, input, output json.RawMessage) bool {
	inputHash, err := hashing.HashCanonical(input)
	if err != nil {
		return false
	}
	outputHash, err := hashing.HashCanonical(output)
	if err != nil {
		return false
	}
	return r.InputHash == inputHash && r.OutputHash == outputHash
}

// Serialize encodes a receipt for storage or transmission.
func Serialize(r *types.Receipt) ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize decodes a receipt produced by Serialize.
func Deserialize(data []byte) (*types.Receipt, error) {
	var r types.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
