package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Hash([]byte("hello!")))
}

func TestHashJSONStableKeyOrder(t *testing.T) {
	first, err := HashJSON(map[string]interface{}{"a": 1, "b": "x", "c": []int{1, 2}})
	require.NoError(t, err)
	second, err := HashJSON(map[string]interface{}{"c": []int{1, 2}, "b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMerkleRootEmpty(t *testing.T) {
	assert.Equal(t, EmptyRoot, MerkleRoot(nil))
	assert.Equal(t, EmptyRoot, MerkleRoot([]string{}))
}

func TestMerkleRootSingleElement(t *testing.T) {
	leaf := Hash([]byte("leaf"))
	assert.Equal(t, leaf, MerkleRoot([]string{leaf}))
}

func TestMerkleRootPair(t *testing.T) {
	left := Hash([]byte("left"))
	right := Hash([]byte("right"))
	assert.Equal(t, HashPair(left, right), MerkleRoot([]string{left, right}))
}

func TestMerkleRootOddLevelDuplicatesLastLeaf(t *testing.T) {
	a, b, c := Hash([]byte("a")), Hash([]byte("b")), Hash([]byte("c"))
	expected := HashPair(HashPair(a, b), HashPair(c, c))
	assert.Equal(t, expected, MerkleRoot([]string{a, b, c}))
}

func TestMerkleRootDeterminism(t *testing.T) {
	leaves := []string{Hash([]byte("1")), Hash([]byte("2")), Hash([]byte("3")), Hash([]byte("4")), Hash([]byte("5"))}
	first := MerkleRoot(leaves)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MerkleRoot(leaves))
	}
}

func TestMerkleRootSensitiveToLeafOrder(t *testing.T) {
	a, b := Hash([]byte("a")), Hash([]byte("b"))
	assert.NotEqual(t, MerkleRoot([]string{a, b}), MerkleRoot([]string{b, a}))
}
