package mpesa

import (
	"encoding/base64"
	"time"
)

// TimestampFormat is the YYYYMMDDHHMMSS layout Safaricom expects in
// request payloads.
const TimestampFormat = "20060102150405"

// GeneratePassword derives the request-signing password for the given
// instant: base64(shortcode + passkey + timestamp). The timestamp is
// embedded in the password, so it must be regenerated for every request
// and the returned timestamp string sent alongside it.
func GeneratePassword(shortCode, passkey string, now time.Time) (password, timestamp string) {
	timestamp = now.Format(TimestampFormat)
	password = base64.StdEncoding.EncodeToString(
		[]byte(shortCode + passkey + timestamp),
	)
	return password, timestamp
}
