package signing

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spot-connect/internal/core"
)

// ParseEd25519PrivateKey accepts a PKCS8 PEM or a base64 seed/private key.
func ParseEd25519PrivateKey(text string) (ed25519.PrivateKey, error) {
	text = strings.ReplaceAll(strings.Trim(strings.TrimSpace(text), "\"'"), `\n`, "\n")
	if text == "" {
		return nil, fmt.Errorf("%w: empty ed25519 private key", core.ErrMissingCredentials)
	}
	if block, _ := pem.Decode([]byte(text)); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
		}
		if k, ok := key.(ed25519.PrivateKey); ok {
			return k, nil
		}
		return nil, fmt.Errorf("%w: pkcs8 key is %T, want ed25519", core.ErrInvalidKey, key)
	}
	if raw, err := base64.StdEncoding.DecodeString(text); err == nil {
		switch len(raw) {
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(raw), nil
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(raw), nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported ed25519 private key format", core.ErrInvalidKey)
}

// IsEd25519PEM reports whether text looks like a PKCS8 Ed25519 key rather
// than an HMAC secret.
func IsEd25519PEM(text string) bool {
	if !strings.Contains(text, "PRIVATE KEY") {
		return false
	}
	_, err := ParseEd25519PrivateKey(text)
	return err == nil
}

// SignQueryEd25519 is SignQuery with an Ed25519 signature, base64 encoded
// and escaped for the query string.
func SignQueryEd25519(key ed25519.PrivateKey, params url.Values, now time.Time, recvWindow time.Duration) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	encoded := params.Encode()
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(key, []byte(encoded)))
	return encoded + "&signature=" + url.QueryEscape(sig)
}
