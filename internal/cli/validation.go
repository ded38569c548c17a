package cli

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidationError is an input validation failure with the offending
// field named, so command output can say which flag or prompt was bad.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidatePrivateKeyHex checks a private key before it goes anywhere
// near the keyring and returns it stripped of whitespace and 0x prefix.
// Exactly 32 bytes of hex are accepted.
func ValidatePrivateKeyHex(privateKey string) (string, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	if len(cleaned) != PrivateKeyHexLength {
		return "", &ValidationError{
			Field:   "private_key",
			Message: fmt.Sprintf("invalid length: expected %d hex characters, got %d", PrivateKeyHexLength, len(cleaned)),
		}
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return "", &ValidationError{
			Field:   "private_key",
			Message: "invalid hex format: only 0-9 and a-f are allowed",
		}
	}
	return cleaned, nil
}
