package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Auth signs Coinbase Exchange REST requests with HMAC-SHA256: sign
// (timestamp + method + requestPath + body) with the base64-decoded API
// secret, producing the CB-ACCESS-* header set. Coinbase has no on-chain
// order-signing step, so there is no additional signing layer beyond this.
type Auth struct {
	apiKey     string
	secret     string // base64-encoded HMAC secret, as issued by Coinbase
	passphrase string
}

// NewAuth creates an Auth from raw Coinbase API credentials.
func NewAuth(apiKey, secret, passphrase string) *Auth {
	return &Auth{apiKey: apiKey, secret: secret, passphrase: passphrase}
}

// Headers produces the CB-ACCESS-* header set for one signed request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	return map[string]string{
		"CB-ACCESS-KEY":        a.apiKey,
		"CB-ACCESS-SIGN":       sig,
		"CB-ACCESS-TIMESTAMP":  timestamp,
		"CB-ACCESS-PASSPHRASE": a.passphrase,
	}, nil
}

// sign computes the HMAC-SHA256 signature: base64(HMAC(secret, timestamp +
// method + requestPath + body)).
func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(a.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
