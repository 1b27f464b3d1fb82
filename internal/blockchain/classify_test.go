package blockchain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nonce too low", errors.New("nonce too low"), ClassNonce},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), ClassNonce},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), ClassInsufficient},
		{"revert", errors.New("execution reverted: Only owner"), ClassRevert},
		{"rate limited", errors.New("429 Too Many Requests"), ClassRateLimit},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassConnection},
		{"timeout", errors.New("context deadline exceeded"), ClassTimeout},
		{"gas too low", errors.New("intrinsic gas too low"), ClassGas},
		{"unknown", errors.New("something unexpected"), ClassOther},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.err))
		})
	}
}

func TestErrorClass_Retryable(t *testing.T) {
	assert.True(t, ClassTimeout.Retryable())
	assert.True(t, ClassRateLimit.Retryable())
	assert.True(t, ClassConnection.Retryable())
	assert.False(t, ClassNonce.Retryable())
	assert.False(t, ClassRevert.Retryable())
	assert.False(t, ClassInsufficient.Retryable())
	assert.False(t, ClassGas.Retryable())
	assert.False(t, ClassOther.Retryable())
}
