package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := fmt.Errorf("fetch bars: %w", New(DataUnavailable, base))

	assert.True(t, Is(wrapped, DataUnavailable))
	assert.False(t, Is(wrapped, OracleFailure))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), PersistenceError))
}

func TestUnwrapReturnsUnderlyingError(t *testing.T) {
	base := errors.New("boom")
	err := New(ExecutionRejected, base)
	assert.Same(t, base, errors.Unwrap(err))
}

func TestRecoverableIsFalseForInvariantAndConfig(t *testing.T) {
	assert.False(t, Recoverable(New(InvariantViolation, errors.New("dup holding"))))
	assert.False(t, Recoverable(New(ConfigError, errors.New("bad flag"))))
	assert.True(t, Recoverable(New(DataUnavailable, errors.New("timeout"))))
	assert.True(t, Recoverable(errors.New("untagged")))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(OracleFailure, "decode failed for %s", "BTC-USD")
	assert.Contains(t, err.Error(), "decode failed for BTC-USD")
	assert.Contains(t, err.Error(), string(OracleFailure))
}
