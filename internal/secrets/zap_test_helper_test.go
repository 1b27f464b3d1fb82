package secrets

import (
	"testing"

	"go.uber.org/zap"
)

func noopZap(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}
