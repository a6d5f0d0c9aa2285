package proof

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// MockSystem identifies proofs produced by the mock backend.
const MockSystem = "mock-sha256"

// mockBlob is the decoded payload of a mock proof. It binds the same digests
// the public inputs carry, so a tampered blob and tampered public inputs are
// both detectable.
type mockBlob struct {
	ProgramHash string `json:"programHash"`
	InputHash   string `json:"inputHash"`
	OutputHash  string `json:"outputHash"`
	GeneratedAt int64  `json:"generatedAt"`
}

// MockBackend is a hash-structural proof backend. Its cryptographic
// verification step trivially succeeds once all structural checks pass; it
// offers integrity, not zero-knowledge soundness.
type MockBackend struct{}

// NewMockBackend creates the mock proof backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Prove builds a mock proof whose blob encodes the execution's digests.
func (b *MockBackend) Prove(programBytes []byte, input, output json.RawMessage) (*types.Proof, error) {
	c, err := buildCommitments(programBytes, input, output)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(mockBlob{
		ProgramHash: c.publicInputs[2],
		InputHash:   c.inputHash,
		OutputHash:  c.outputHash,
		GeneratedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	return &types.Proof{
		ProofBlob:        base64.StdEncoding.EncodeToString(blob),
		ProofSystem:      MockSystem,
		PublicInputs:     c.publicInputs,
		PublicInputsRoot: c.pubRoot,
		OutputRoot:       c.outputRoot,
		ProgramHash:      c.programHash,
	}, nil
}

// Verify checks the proof's structure and embedded digests against the
// expected output. Malformed proofs yield a diagnostic reason, never a panic.
func (b *MockBackend) Verify(p *types.Proof, expectedOutput json.RawMessage) types.VerificationResult {
	if reason := checkStructure(p, expectedOutput); reason != "" {
		return invalid(reason)
	}

	raw, err := base64.StdEncoding.DecodeString(p.ProofBlob)
	if err != nil {
		return invalid("invalid proof encoding")
	}
	var blob mockBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return invalid("invalid proof encoding")
	}
	if blob.ProgramHash == "" || blob.InputHash == "" || blob.OutputHash == "" {
		return invalid("invalid proof structure")
	}

	// The blob must agree with the public inputs it claims to commit to.
	if blob.InputHash != p.PublicInputs[0] ||
		blob.OutputHash != p.PublicInputs[1] ||
		blob.ProgramHash != p.PublicInputs[2] {
		return invalid("proof blob does not match public inputs")
	}

	return valid()
}

var _ Backend = (*MockBackend)(nil)
