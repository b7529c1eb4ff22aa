package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(999).String())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
		class     ErrorClass
	}{
		{"nil", nil, false, false, false, ErrorTransient},
		{"storage unavailable", ErrStorageUnavailable, true, false, false, ErrorTransient},
		{"deadline exceeded", fmt.Errorf("put: %w", context.DeadlineExceeded), true, false, false, ErrorTransient},
		{"timeout text", errors.New("nats: operation timeout occurred"), true, false, false, ErrorTransient},
		{"sweep running", ErrSweepInProgress, true, false, false, ErrorTransient},
		{"unknown name", fmt.Errorf("get: %w", ErrUnknownEntity), false, true, false, ErrorInvalid},
		{"missing qualifier", ErrMissingQualifier, false, true, false, ErrorInvalid},
		{"parsing failed", ErrParsingFailed, false, true, false, ErrorInvalid},
		{"root mismatch", ErrRootCAMismatch, false, false, true, ErrorFatal},
		{"root incomplete", fmt.Errorf("load: %w", ErrRootCAIncomplete), false, false, true, ErrorFatal},
		{"invalid config", ErrInvalidConfig, false, false, true, ErrorFatal},
		{"plain", errors.New("something odd"), false, false, false, ErrorTransient},
		{"wrapper wins over sentinel", WrapTransient(ErrDataCorrupted, "kvstore", "Get", "read"), true, false, false, ErrorTransient},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "CertMgr", "Init", "load root"), false, false, true, ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.invalid, IsInvalid(tt.err), "IsInvalid")
			assert.Equal(t, tt.fatal, IsFatal(tt.err), "IsFatal")
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))

	base := errors.New("disk gone")
	err := Wrap(base, "Store", "Save", "persist entity")
	assert.EqualError(t, err, "Store.Save: persist entity failed: disk gone")
	assert.ErrorIs(t, err, base)
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("bad")
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.wrap(nil, "a", "b", "c"))

			err := tt.wrap(base, "CertMgr", "Init", "load root")
			var ce *ClassifiedError
			require.True(t, As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "CertMgr", ce.Component)
			assert.Equal(t, "Init", ce.Operation)
			assert.EqualError(t, err, "CertMgr.Init: load root failed: bad")
			assert.True(t, Is(err, base))
		})
	}
}

func TestClassifiedError_NoMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorInvalid, Err: New("inner")}
	assert.Equal(t, "inner", ce.Error())
}
