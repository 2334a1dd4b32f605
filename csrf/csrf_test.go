package csrf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "tokens must be unique")
}

func TestValidateToken_Match(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, ValidateToken(tok, tok))
}

func TestValidateToken_FailsClosed(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	other, err := GenerateToken()
	require.NoError(t, err)

	testCases := []struct {
		name   string
		header string
		cookie string
	}{
		{"both empty", "", ""},
		{"missing header", "", tok},
		{"missing cookie", tok, ""},
		{"mismatch", tok, other},
		{"undecodable header", "!!!not-base64!!!", tok},
		{"undecodable cookie", tok, "!!!not-base64!!!"},
		{"truncated header", tok[:len(tok)/2], tok},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, ValidateToken(tc.header, tc.cookie))
		})
	}
}
