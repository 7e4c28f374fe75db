package doordash

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

var jwtSigningMethod = jwt.SigningMethodHS256

const tokenTTL = 5 * time.Minute

// mintToken issues the short-lived JWT the Drive API expects. The key
// pair differs per mode; the signing secret is base64url encoded.
func (c *Client) mintToken(environment enums.Environment) (string, error) {
	keyID, signingSecret := c.cfg.Credentials(environment)
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(signingSecret) == "" {
		return "", fmt.Errorf("doordash credentials missing for %s", environment)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(signingSecret, "="))
	if err != nil {
		return "", fmt.Errorf("decoding doordash signing secret: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"aud": "doordash",
		"iss": c.cfg.DeveloperID,
		"kid": keyID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	token.Header["dd-ver"] = "DD-JWT-V1"

	signed, err := token.SignedString(decoded)
	if err != nil {
		return "", fmt.Errorf("signing doordash jwt: %w", err)
	}
	return signed, nil
}
