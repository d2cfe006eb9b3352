package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	plain := apperrors.New(apperrors.ErrCodePrecondition, "room not found")
	assert.Equal(t, "[PRECONDITION_NOT_MET] room not found", plain.Error())

	wrapped := apperrors.Wrap(fmt.Errorf("dial tcp: refused"), apperrors.ErrCodeLedger, "append score")
	assert.Equal(t, "[LEDGER_FAILURE] append score: dial tcp: refused", wrapped.Error())
}

func TestAppError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", apperrors.ErrRoomNotFound, apperrors.ErrRoomNotFound, true},
		{"wrapped sentinel", fmt.Errorf("join: %w", apperrors.ErrRoomNotFound), apperrors.ErrRoomNotFound, true},
		{"details ignored", apperrors.ErrNoSession.WithDetails("room_abc"), apperrors.ErrNoSession, true},
		{"same code different sentinel", apperrors.ErrNotInRoom, apperrors.ErrNoSession, false},
		{"empty input vs already answered", apperrors.ErrEmptyInput, apperrors.ErrAlreadyAnswered, false},
		{"not accepting vs no session", apperrors.ErrNotAccepting.WithDetails("settling"), apperrors.ErrNoSession, false},
		{"different code", apperrors.ErrRoomNotFound, apperrors.ErrLedgerUnavailable, false},
		{"wrapped ledger failure", apperrors.Wrap(stderrors.New("refused"), apperrors.ErrCodeLedger, "append score"), apperrors.ErrLedgerUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stderrors.Is(tt.err, tt.target))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := apperrors.Wrap(cause, apperrors.ErrCodeLedger, "top scores")

	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithDetailsDoesNotMutate(t *testing.T) {
	detailed := apperrors.ErrNoSession.WithDetails("room_abc")

	assert.Equal(t, "room_abc", detailed.Details)
	assert.Empty(t, apperrors.ErrNoSession.Details)
}

func TestCodeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"precondition", apperrors.ErrAlreadyAnswered, apperrors.IsPrecondition, true},
		{"precondition wrapped", fmt.Errorf("x: %w", apperrors.ErrEmptyInput), apperrors.IsPrecondition, true},
		{"ledger", apperrors.ErrLedgerUnavailable, apperrors.IsLedgerFailure, true},
		{"ledger vs precondition", apperrors.ErrNoSession, apperrors.IsLedgerFailure, false},
		{"invalid input", apperrors.ErrInvalidScore, apperrors.IsInvalidInput, true},
		{"same code different sentinel", apperrors.ErrNotInRoom, apperrors.IsPrecondition, true},
		{"wrapped ledger failure", apperrors.Wrap(stderrors.New("refused"), apperrors.ErrCodeLedger, "x"), apperrors.IsLedgerFailure, true},
		{"plain error", stderrors.New("boom"), apperrors.IsPrecondition, false},
		{"nil", nil, apperrors.IsPrecondition, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}
