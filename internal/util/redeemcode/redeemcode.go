package redeemcode

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate creates a deal redemption code such as "DAILY-7KQ2-M4XA".
// The random part carries 40 bits in base32 uppercase letters and digits.
func Generate(prefix string) (string, error) {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	body := encoding.EncodeToString(buf[:])
	code := body[:4] + "-" + body[4:8]
	if prefix == "" {
		return code, nil
	}
	return strings.ToUpper(prefix) + "-" + code, nil
}
