package doordash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw
// webhook body.
const SignatureHeader = "X-DoorDash-Signature"

var errSignatureMismatch = errors.New("doordash signature did not match any configured secret")

// VerifyWebhook checks the payload signature against each configured
// secret, production first, and reports which environment signed it.
func VerifyWebhook(cfg config.DoorDashConfig, payload []byte, signature string) (enums.Environment, error) {
	if signature == "" {
		return "", errSignatureMismatch
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return "", errSignatureMismatch
	}
	for _, secret := range cfg.WebhookSecrets() {
		mac := hmac.New(sha256.New, []byte(secret.Secret))
		mac.Write(payload)
		if hmac.Equal(provided, mac.Sum(nil)) {
			return secret.Environment, nil
		}
	}
	return "", errSignatureMismatch
}
