package mega

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAPICodeOverquota(t *testing.T) {
	require.ErrorIs(t, parseAPICode(overquotaCode), EOVERQUOTA)
}

func TestParseAPICodeWrapsUnknownCode(t *testing.T) {
	err := parseAPICode(-9)
	var apiErr *MegaError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, -9, apiErr.Code)
}
