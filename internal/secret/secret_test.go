package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_RedactedForms(t *testing.T) {
	s := New("sk-live-abcdef1234567890")

	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, redacted, fmt.Sprintf("%#v", s))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))
}

func TestSecret_Expose(t *testing.T) {
	s := New("sk-live-abcdef1234567890")
	assert.Equal(t, "sk-live-abcdef1234567890", s.Expose())
}

func TestSecret_MaskedPrefix(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", redacted},
		{"short", "short", redacted},
		{"exactly nine", "123456789", redacted},
		{"ten chars", "1234567890", "123456…***"},
		{"long", "sk-live-abcdef1234567890", "sk-liv…***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.in).MaskedPrefix())
		})
	}
}

func TestSecret_IsEmpty(t *testing.T) {
	assert.True(t, New("").IsEmpty())
	assert.True(t, Secret{}.IsEmpty())
	assert.False(t, New("x").IsEmpty())
}

func TestSecret_Zero(t *testing.T) {
	s := New("sk-live-abcdef1234567890")
	s.Zero()
	assert.Equal(t, "", s.Expose())
	assert.True(t, s.IsEmpty())
}

// Property: for any nonempty secret, no formatting surface contains the
// raw value.
func TestSecret_NeverLeaksSubstring(t *testing.T) {
	values := []string{
		"a", "ab", "abcdefgh", "sk-proj-ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		"0000000000", "${NOT_A_VAR}",
	}
	for _, v := range values {
		s := New(v)
		outputs := []string{
			s.String(),
			fmt.Sprintf("%v", s),
			fmt.Sprintf("%#v", s),
		}
		data, err := json.Marshal(s)
		require.NoError(t, err)
		outputs = append(outputs, string(data))

		for _, out := range outputs {
			if len(v) > 0 {
				assert.NotContains(t, out, v)
			}
		}
	}
}
