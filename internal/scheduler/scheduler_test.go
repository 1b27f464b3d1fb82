package scheduler

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

func TestCompareReturn_Bool(t *testing.T) {
	assert.True(t, compareReturn(word32(big.NewInt(1)), "true"))
	assert.False(t, compareReturn(word32(big.NewInt(1)), "false"))
	assert.True(t, compareReturn(word32(big.NewInt(0)), "false"))
}

func TestCompareReturn_Numeric(t *testing.T) {
	assert.True(t, compareReturn(word32(big.NewInt(42)), "42"))
	assert.False(t, compareReturn(word32(big.NewInt(42)), "43"))
}

func TestCompareReturn_Address(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000ff")
	word := make([]byte, 32)
	copy(word[12:], addr.Bytes())
	assert.True(t, compareReturn(word, addr.Hex()))
}

func TestResolveParams_MixedTypes(t *testing.T) {
	out, err := resolveParams(
		[]string{"address", "uint256", "bool", "string"},
		[]string{"0x0000000000000000000000000000000000000001", "100", "true", "hello"},
	)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, common.HexToAddress("0x1"), out[0])
	assert.Equal(t, big.NewInt(100), out[1])
	assert.Equal(t, true, out[2])
	assert.Equal(t, "hello", out[3])
}

func TestResolveParams_CountMismatch(t *testing.T) {
	_, err := resolveParams([]string{"address"}, nil)
	assert.Error(t, err)
}

func TestResolveParam_UnsupportedType(t *testing.T) {
	_, err := resolveParam("tuple", "()")
	assert.Error(t, err)
}
