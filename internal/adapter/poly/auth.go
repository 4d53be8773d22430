package poly

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// UserAuth builds the L2 authentication headers Polymarket's user channel
// expects on the WebSocket handshake: an API key, an HMAC-SHA256 signature
// over a canonical string, and a passphrase (spec §4.5's "authentication
// payload (API key, HMAC signature over a canonical string, passphrase)").
//
// The canonical-string-then-sign shape mirrors internal/signer/session.go's
// EIP-712 order-signing pattern, but the primitive itself is HMAC per
// spec.md's instruction — order signing (secp256k1/EIP-712) is a different
// concern and stays in internal/signer untouched.
type UserAuth struct {
	APIKey     string
	Secret     []byte // base64-decoded API secret
	Passphrase string

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// NewUserAuth creates a UserAuth from a Polymarket L2 API credential set.
// secretB64 is the base64-encoded secret as issued by the exchange.
func NewUserAuth(apiKey, secretB64, passphrase string) (*UserAuth, error) {
	secret, err := base64.URLEncoding.DecodeString(secretB64)
	if err != nil {
		secret, err = base64.StdEncoding.DecodeString(secretB64)
		if err != nil {
			return nil, err
		}
	}
	return &UserAuth{APIKey: apiKey, Secret: secret, Passphrase: passphrase, Now: time.Now}, nil
}

// Sign computes base64(HMAC-SHA256(secret, timestamp+method+path+body)),
// Polymarket's canonical L2 signing scheme.
func (a *UserAuth) Sign(method, path, body string, ts int64) string {
	mac := hmac.New(sha256.New, a.Secret)
	mac.Write([]byte(canonicalString(ts, method, path, body)))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func canonicalString(ts int64, method, path, body string) string {
	return strconv.FormatInt(ts, 10) + method + path + body
}

// Headers builds the user channel's WebSocket handshake headers carrying
// the authentication payload, satisfying adapter.UserAuth. The subscribe
// frame itself carries no authentication fields.
func (a *UserAuth) Headers() http.Header {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	ts := now().Unix()
	h := http.Header{}
	h.Set("POLY_API_KEY", a.APIKey)
	h.Set("POLY_PASSPHRASE", a.Passphrase)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	h.Set("POLY_SIGNATURE", a.Sign("GET", "/ws/user", "", ts))
	return h
}

var _ adapter.UserAuth = (*UserAuth)(nil)
