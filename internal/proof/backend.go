// Package proof produces and verifies proofs that a receipt's claimed output
// follows from its input under a given program. The Backend interface is
// pluggable: MockBackend covers testing and low-assurance deployments,
// Groth16Backend runs a real ZK-SNARK verifier. Neither implementation is
// ever hard-coded into the scheduler or reward aggregator.
package proof

import (
	"encoding/json"
	"time"

	"github.com/abyssgrid/gridmarket/internal/hashing"
	"github.com/abyssgrid/gridmarket/internal/types"
)

// Backend is a proof system implementation.
//
// Verify is a pure function of the proof and expected output: it must not
// consult mutable global state, must never panic on malformed input, and
// reports well-formed-but-invalid proofs through VerificationResult rather
// than an error.
type Backend interface {
	Prove(programBytes []byte, input, output json.RawMessage) (*types.Proof, error)
	Verify(p *types.Proof, expectedOutput json.RawMessage) types.VerificationResult
}

// commitments bundles the backend-agnostic hash commitments every proof
// carries alongside its backend-defined blob.
type commitments struct {
	inputHash    string
	outputHash   string
	programHash  string // hash(hash(program) || hash(input))
	publicInputs []string
	pubRoot      string
	outputRoot   string
}

// buildCommitments computes the public commitment fields shared by all
// backends: publicInputs = [hash(input), hash(output), hash(program)].
func buildCommitments(programBytes []byte, input, output json.RawMessage) (*commitments, error) {
	inputHash, err := hashing.HashCanonical(input)
	if err != nil {
		return nil, err
	}
	outputHash, err := hashing.HashCanonical(output)
	if err != nil {
		return nil, err
	}
	programDigest := hashing.Hash(programBytes)

	publicInputs := []string{inputHash, outputHash, programDigest}
	return &commitments{
		inputHash:    inputHash,
		outputHash:   outputHash,
		programHash:  hashing.HashPair(programDigest, inputHash),
		publicInputs: publicInputs,
		pubRoot:      hashing.MerkleRoot(publicInputs),
		outputRoot:   hashing.MerkleRoot([]string{outputHash}),
	}, nil
}

// invalid builds a failed verification result with a diagnostic reason.
func invalid(reason string) types.VerificationResult {
	return types.VerificationResult{Valid: false, Reason: reason, VerifiedAt: time.Now().UnixMilli()}
}

// valid builds a successful verification result.
func valid() types.VerificationResult {
	return types.VerificationResult{Valid: true, VerifiedAt: time.Now().UnixMilli()}
}

// checkStructure runs the backend-agnostic structural checks required before
// any cryptographic verification: the expected output hash must agree with
// the hash embedded in the proof's public inputs, and the public inputs root
// must recompute. Returns an empty reason on success.
func checkStructure(p *types.Proof, expectedOutput json.RawMessage) string {
	if p == nil || p.ProofBlob == "" {
		return "invalid proof structure"
	}
	if len(p.PublicInputs) != 3 {
		return "invalid proof structure"
	}

	expectedOutputHash, err := hashing.HashCanonical(expectedOutput)
	if err != nil {
		return "unhashable expected output"
	}
	if p.PublicInputs[1] != expectedOutputHash {
		return "output hash mismatch"
	}
	if hashing.MerkleRoot(p.PublicInputs) != p.PublicInputsRoot {
		return "public inputs root mismatch"
	}
	if hashing.MerkleRoot([]string{expectedOutputHash}) != p.OutputRoot {
		return "output root mismatch"
	}
	return ""
}
