package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesWrappedCode(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("daily routine: %w", NewGenerationFailure("request failed", cause))

	require.True(t, Is(err, ErrGenerationFailure))
	require.False(t, Is(err, ErrDeliveryFailure))
	require.ErrorIs(t, err, cause)
}

func TestIs_PlainError(t *testing.T) {
	require.False(t, Is(stderrors.New("boom"), ErrFeedUnavailable))
	require.False(t, Is(nil, ErrFeedUnavailable))
}

func TestErrorMessage(t *testing.T) {
	err := NewFieldParseFailure("DTSTART", "2025-09-22")
	require.Equal(t, `FIELD_PARSE_FAILURE: cannot parse DTSTART value "2025-09-22"`, err.Error())

	err = NewPersistenceFailure("save plan", stderrors.New("disk full"))
	require.Equal(t, "PERSISTENCE_FAILURE: save plan: disk full", err.Error())
}
