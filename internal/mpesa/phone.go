package mpesa

import "strings"

// FormatPhoneNumber converts a user-entered phone number to the M-Pesa
// wire format (254XXXXXXXXX). Separators and other non-digit characters
// are stripped first. Rules, in priority order:
//
//  1. already starts with "254" -> returned as-is
//  2. national trunk prefix "0"  -> leading "0" replaced with "254"
//  3. subscriber prefix "7"/"1"  -> "254" prepended
//  4. anything else              -> "254" prepended (best effort)
//
// No length validation happens here; callers that need the strict
// 9-digit rule enforce it before calling.
func FormatPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "254"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case strings.HasPrefix(digits, "7"), strings.HasPrefix(digits, "1"):
		return "254" + digits
	default:
		return "254" + digits
	}
}
