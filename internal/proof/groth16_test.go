package proof

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroth16ProveVerifyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping SNARK setup in short mode")
	}
	b := NewGroth16Backend()

	p, err := b.Prove(testProgram, testInput, testOutput)
	require.NoError(t, err)
	assert.Equal(t, Groth16System, p.ProofSystem)
	assert.NotEmpty(t, p.ProofBlob)

	res := b.Verify(p, testOutput)
	assert.True(t, res.Valid, "reason: %s", res.Reason)
}

func TestGroth16VerifyRejectsWrongOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping SNARK setup in short mode")
	}
	b := NewGroth16Backend()

	p, err := b.Prove(testProgram, testInput, testOutput)
	require.NoError(t, err)

	res := b.Verify(p, json.RawMessage(`{"result": 9000}`))
	assert.False(t, res.Valid)
	assert.Equal(t, "output hash mismatch", res.Reason)
}

func TestGroth16VerifyRejectsMalformedBlob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping SNARK setup in short mode")
	}
	b := NewGroth16Backend()

	p, err := b.Prove(testProgram, testInput, testOutput)
	require.NoError(t, err)

	p.ProofBlob = "AAAA"
	res := b.Verify(p, testOutput)
	assert.False(t, res.Valid)
	assert.Equal(t, "malformed proof blob", res.Reason)
}

func TestGroth16VerifyRejectsForeignSystem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping SNARK setup in short mode")
	}
	mock := NewMockBackend()
	g16 := NewGroth16Backend()

	p, err := mock.Prove(testProgram, testInput, testOutput)
	require.NoError(t, err)

	res := g16.Verify(p, testOutput)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "unsupported proof system")
}

func TestChunkDigest(t *testing.T) {
	chunks, err := chunkDigest("00000001" + "00000002" + "00000003" + "00000004" +
		"00000005" + "00000006" + "00000007" + "00000008")
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, uint64(i+1), c)
	}

	_, err = chunkDigest("abcd")
	assert.Error(t, err)
	_, err = chunkDigest("zz")
	assert.Error(t, err)
}
