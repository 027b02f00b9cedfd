package mpesa

import "strings"

// NormalizePhone converts varied local phone formats to the digits-only
// international form the gateway requires (254XXXXXXXXX).
//
// Accepted inputs: leading 0 ("0712345678"), leading +254, leading 254,
// or a bare 9-digit local number. Anything else passes through unchanged:
// this is a silent best-effort normalization, malformed input is not an
// error here.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case strings.HasPrefix(digits, "254"):
		return digits
	case len(digits) == 9:
		return "254" + digits
	default:
		return digits
	}
}
