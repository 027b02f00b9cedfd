package mpesa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"leading zero", "0712345678", "254712345678"},
		{"plus country code", "+254712345678", "254712345678"},
		{"bare country code", "254712345678", "254712345678"},
		{"nine digit local", "712345678", "254712345678"},
		{"spaces and dashes", "0712-345 678", "254712345678"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizePhone(tc.input))
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	once := NormalizePhone("0722000000")
	require.Equal(t, "254722000000", once)
	require.Equal(t, once, NormalizePhone(once))
}
