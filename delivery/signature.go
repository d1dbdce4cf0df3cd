package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWebhookSecretUnconfigured is returned when signing or verification is
// attempted without a secret. Fail closed: never skip signature checks.
var ErrWebhookSecretUnconfigured = errors.New("webhook secret not configured")

// CanonicalJSON serializes v with sorted keys and no extraneous whitespace,
// so both sides of a signed exchange produce identical bytes
func CanonicalJSON(v interface{}) ([]byte, error) {
	// Round-trip through a map: encoding/json sorts map keys
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical unmarshal: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical remarshal: %w", err)
	}
	return canonical, nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret
func Sign(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", ErrWebhookSecretUnconfigured
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a hex HMAC-SHA256 signature in constant time
func Verify(payload []byte, signature, secret string) error {
	if secret == "" {
		return ErrWebhookSecretUnconfigured
	}

	expected, err := Sign(payload, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}
