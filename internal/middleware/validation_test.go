package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "healthcli/internal/errors"
)

type runBody struct {
	Country string `json:"country" validate:"required,country"`
	From    int    `query:"from" validate:"omitempty,min=1900"`
	To      int    `query:"to" validate:"omitempty,gtefield=From"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(discardLogger())

	tests := []struct {
		name      string
		input     runBody
		wantField string
		wantMsg   string
	}{
		{"valid", runBody{Country: "United States of America", From: 2000, To: 2010}, "", ""},
		{"missing country", runBody{}, "country", "country is required"},
		{"path traversal", runBody{Country: "../Brazil"}, "country", "printable country name"},
		{"separator", runBody{Country: "a/b"}, "country", "printable country name"},
		{"control char", runBody{Country: "Bra\x00zil"}, "country", "printable country name"},
		{"too long", runBody{Country: strings.Repeat("x", 101)}, "country", "printable country name"},
		{"from too small", runBody{Country: "Brazil", From: 1800}, "from", "from must be at least 1900"},
		{"to before from", runBody{Country: "Brazil", From: 2010, To: 2000}, "to", "to must not be before from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.input)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var apiErr *apierrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)

			details, ok := apiErr.Details.([]apierrors.ValidationError)
			require.True(t, ok)
			require.Len(t, details, 1)
			assert.Equal(t, tt.wantField, details[0].Field)
			assert.Contains(t, details[0].Message, tt.wantMsg)
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2001&to=%20&bad=x1", nil)

	n, err := QueryInt(req, "from")
	require.NoError(t, err)
	assert.Equal(t, 2001, n)

	n, err = QueryInt(req, "to")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = QueryInt(req, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = QueryInt(req, "bad")
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
}
