package proof

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	frmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// Groth16System identifies proofs produced by the Groth16 backend.
const Groth16System = "groth16"

// digestChunks is the number of field elements a 32-byte digest is split into
// inside the circuit.
const digestChunkCount = 8

// executionCircuit proves knowledge of the output and program digests behind
// two public MiMC commitments. The statement bound on-chain is: "the prover
// knows digests whose commitments equal the public values derived from the
// claimed output and program".
type executionCircuit struct {
	// Public inputs
	OutputCommitment  frontend.Variable `gnark:",public"`
	ProgramCommitment frontend.Variable `gnark:",public"`

	// Private witness: digest bytes split into field-element chunks
	OutputChunks  [digestChunkCount]frontend.Variable `gnark:",secret"`
	ProgramChunks [digestChunkCount]frontend.Variable `gnark:",secret"`
}

// Define establishes the commitment constraints using the in-circuit MiMC
// permutation, matching the native commitment computed by the backend.
func (c *executionCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("failed to initialize MiMC hasher: %w", err)
	}

	for i := 0; i < digestChunkCount; i++ {
		h.Write(c.OutputChunks[i])
	}
	api.AssertIsEqual(h.Sum(), c.OutputCommitment)

	h.Reset()
	for i := 0; i < digestChunkCount; i++ {
		h.Write(c.ProgramChunks[i])
	}
	api.AssertIsEqual(h.Sum(), c.ProgramCommitment)

	return nil
}

// Groth16Backend implements Backend with a real ZK-SNARK on BN254. The
// circuit is compiled and its keys generated once per backend instance; in a
// production deployment the verifying key would come from a trusted ceremony.
type Groth16Backend struct {
	setupOnce sync.Once
	setupErr  error
	ccs       constraint.ConstraintSystem
	pk        groth16.ProvingKey
	vk        groth16.VerifyingKey
}

// NewGroth16Backend creates the Groth16 proof backend. Circuit compilation is
// deferred to first use.
func NewGroth16Backend() *Groth16Backend {
	return &Groth16Backend{}
}

func (b *Groth16Backend) setup() error {
	b.setupOnce.Do(func() {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &executionCircuit{})
		if err != nil {
			b.setupErr = fmt.Errorf("failed to compile circuit: %w", err)
			return
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			b.setupErr = fmt.Errorf("failed to setup circuit: %w", err)
			return
		}
		b.ccs, b.pk, b.vk = ccs, pk, vk
	})
	return b.setupErr
}

// chunkDigest splits a hex digest into uint64 chunks suitable as circuit
// witness values.
func chunkDigest(hexDigest string) ([digestChunkCount]uint64, error) {
	var chunks [digestChunkCount]uint64
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return chunks, fmt.Errorf("digest is not hex: %w", err)
	}
	if len(raw) != 32 {
		return chunks, fmt.Errorf("digest must be 32 bytes, got %d", len(raw))
	}
	for i := 0; i < digestChunkCount; i++ {
		var v uint64
		for j := 0; j < 4; j++ {
			v = v<<8 | uint64(raw[i*4+j])
		}
		chunks[i] = v
	}
	return chunks, nil
}

// mimcCommitment computes the native MiMC commitment over a digest's chunks,
// matching the in-circuit hash byte for byte.
func mimcCommitment(hexDigest string) (*big.Int, error) {
	chunks, err := chunkDigest(hexDigest)
	if err != nil {
		return nil, err
	}
	h := frmimc.NewMiMC()
	for _, c := range chunks {
		var e fr.Element
		e.SetUint64(c)
		eb := e.Bytes()
		if _, err := h.Write(eb[:]); err != nil {
			return nil, err
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// Prove generates a Groth16 proof binding the output and program digests.
func (b *Groth16Backend) Prove(programBytes []byte, input, output json.RawMessage) (*types.Proof, error) {
	if err := b.setup(); err != nil {
		return nil, err
	}

	c, err := buildCommitments(programBytes, input, output)
	if err != nil {
		return nil, err
	}

	outputChunks, err := chunkDigest(c.outputHash)
	if err != nil {
		return nil, err
	}
	programChunks, err := chunkDigest(c.programHash)
	if err != nil {
		return nil, err
	}
	outputCommitment, err := mimcCommitment(c.outputHash)
	if err != nil {
		return nil, err
	}
	programCommitment, err := mimcCommitment(c.programHash)
	if err != nil {
		return nil, err
	}

	assignment := &executionCircuit{
		OutputCommitment:  outputCommitment,
		ProgramCommitment: programCommitment,
	}
	for i := 0; i < digestChunkCount; i++ {
		assignment.OutputChunks[i] = outputChunks[i]
		assignment.ProgramChunks[i] = programChunks[i]
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}

	snark, err := groth16.Prove(b.ccs, b.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proof: %w", err)
	}

	var buf bytes.Buffer
	if _, err := snark.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize proof: %w", err)
	}

	return &types.Proof{
		ProofBlob:        base64.StdEncoding.EncodeToString(buf.Bytes()),
		ProofSystem:      Groth16System,
		PublicInputs:     c.publicInputs,
		PublicInputsRoot: c.pubRoot,
		OutputRoot:       c.outputRoot,
		ProgramHash:      c.programHash,
	}, nil
}

// Verify runs the structural checks and then the Groth16 verifier against a
// public witness rebuilt from the expected output and the proof's program
// commitment. Failures are reported as results, never panics.
func (b *Groth16Backend) Verify(p *types.Proof, expectedOutput json.RawMessage) types.VerificationResult {
	if reason := checkStructure(p, expectedOutput); reason != "" {
		return invalid(reason)
	}
	if p.ProofSystem != Groth16System {
		return invalid(fmt.Sprintf("unsupported proof system %q", p.ProofSystem))
	}
	if err := b.setup(); err != nil {
		return invalid(fmt.Sprintf("circuit setup failed: %v", err))
	}

	raw, err := base64.StdEncoding.DecodeString(p.ProofBlob)
	if err != nil {
		return invalid("invalid proof encoding")
	}
	snark := groth16.NewProof(ecc.BN254)
	if _, err := snark.ReadFrom(bytes.NewReader(raw)); err != nil {
		return invalid("malformed proof blob")
	}

	// Rebuild the public witness independently from the expected output.
	outputCommitment, err := mimcCommitment(p.PublicInputs[1])
	if err != nil {
		return invalid(fmt.Sprintf("invalid output digest: %v", err))
	}
	programCommitment, err := mimcCommitment(p.ProgramHash)
	if err != nil {
		return invalid(fmt.Sprintf("invalid program hash: %v", err))
	}

	assignment := &executionCircuit{
		OutputCommitment:  outputCommitment,
		ProgramCommitment: programCommitment,
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return invalid(fmt.Sprintf("failed to build public witness: %v", err))
	}

	if err := groth16.Verify(snark, b.vk, publicWitness); err != nil {
		return invalid("proof verification failed")
	}
	return valid()
}

var _ Backend = (*Groth16Backend)(nil)
