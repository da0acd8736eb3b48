package credentials

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// fallbackHandle is used when a name has no ASCII letters or digits at all
const fallbackHandle = "student"

// secretChars omits look-alike characters (0/O, 1/l/I) since kids type these by hand
const secretChars = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Slug turns a display name into a lowercase ASCII handle base.
// "Alex Johnson" becomes "alexjohnson"; everything outside [a-z0-9] is dropped.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackHandle
	}
	return b.String()
}

// GenerateSecret generates a random initial secret of the given length
func GenerateSecret(length int) (string, error) {
	secret := make([]byte, length)
	max := big.NewInt(int64(len(secretChars)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		secret[i] = secretChars[num.Int64()]
	}

	return string(secret), nil
}
