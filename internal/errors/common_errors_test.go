package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NewSchemaError("missing column RATE_PER_100_N", nil),
			want: "[SCHEMA] missing column RATE_PER_100_N",
		},
		{
			name: "with cause",
			err:  NewNetworkError("fetch HYPERTENSION", fmt.Errorf("status 503")),
			want: "[NETWORK] fetch HYPERTENSION: status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	sentinel := errors.New("duplicate year")
	err := NewParsingError("normalize UHC", fmt.Errorf("year 2019: %w", sentinel))

	assert.ErrorIs(t, err, sentinel)

	var appErr *AppError
	require.ErrorAs(t, fmt.Errorf("run: %w", err), &appErr)
	assert.Equal(t, ErrTypeParsing, appErr.Type)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewStorageError("write sink", nil).
		WithContext("sink", "csv").
		WithContext("country", "Brazil")

	assert.Equal(t, "csv", err.Context["sink"])
	assert.Equal(t, "Brazil", err.Context["country"])

	bare := &AppError{Type: ErrTypeInternal}
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want ErrorType
	}{
		{"network", NewNetworkError("x", nil), ErrTypeNetwork},
		{"parsing", NewParsingError("x", nil), ErrTypeParsing},
		{"schema", NewSchemaError("x", nil), ErrTypeSchema},
		{"storage", NewStorageError("x", nil), ErrTypeStorage},
		{"validation", NewAppValidationError("x"), ErrTypeValidation},
		{"not found", NewNotFoundError("country Atlantis"), ErrTypeNotFound},
		{"config", NewConfigError("x", nil), ErrTypeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Type)
			assert.True(t, IsType(tt.err, tt.want))
		})
	}

	assert.Equal(t, "country Atlantis not found", NewNotFoundError("country Atlantis").Message)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.Equal(t, ErrTypeSchema, TypeOf(fmt.Errorf("wrapped: %w", NewSchemaError("x", nil))))
	assert.False(t, IsType(nil, ErrTypeSchema))
}
