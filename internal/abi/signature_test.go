package abi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	sigs := []string{
		"submit(uint256)",
		"transmit(int192,bytes)",
		"vote(address,bool)",
		"batch(uint256[],address[3])",
	}
	for _, s := range sigs {
		def, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, def.String())
	}
}

func TestParse_CachesBySignature(t *testing.T) {
	a, err := Parse("submit(uint256)")
	require.NoError(t, err)
	b, err := Parse("submit(uint256)")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse("submit(notatype)")
	assert.Error(t, err)
}

func TestParse_MissingName(t *testing.T) {
	_, err := Parse("(uint256)")
	assert.Error(t, err)
}

func TestEncode_SubmitUint256(t *testing.T) {
	def, err := Parse("submit(uint256)")
	require.NoError(t, err)

	data, err := def.Encode(big.NewInt(100050))
	require.NoError(t, err)
	assert.Len(t, data, 4+32)
	assert.Equal(t, selector("submit(uint256)"), [4]byte(data[:4]))
}

func TestEncode_WrongParameterCount(t *testing.T) {
	def, err := Parse("vote(address,bool)")
	require.NoError(t, err)

	_, err = def.Encode(common.HexToAddress("0x1"))
	assert.Error(t, err)
}

func TestEncode_FixedArrayArityMismatch(t *testing.T) {
	def, err := Parse("batch(address[3])")
	require.NoError(t, err)

	_, err = def.Encode([]common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2")})
	assert.Error(t, err)
}

func TestDecode_LatestRoundData(t *testing.T) {
	def, err := Parse("latestRoundData(uint80,int256,uint256,uint256,uint80)")
	require.NoError(t, err)

	packed, err := def.Arguments.PackValues([]interface{}{
		big.NewInt(1), big.NewInt(100050), big.NewInt(1000), big.NewInt(1000), big.NewInt(1),
	})
	require.NoError(t, err)

	values, err := def.Decode(packed)
	require.NoError(t, err)
	require.Len(t, values, 5)
	assert.Equal(t, big.NewInt(100050), values[1])
}
