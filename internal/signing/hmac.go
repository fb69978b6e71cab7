package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"spot-connect/internal/core"
)

// HexSHA256 is HMAC-SHA256 rendered as lowercase hex.
func HexSHA256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Base64SHA256 is HMAC-SHA256 rendered as standard base64.
func Base64SHA256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignQuery stamps params with timestamp (and recvWindow when set) and
// returns the encoded query with "&signature=" appended.
func SignQuery(secret string, params url.Values, now time.Time, recvWindow time.Duration) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	encoded := params.Encode()
	return encoded + "&signature=" + HexSHA256(secret, encoded)
}

// NonceBodyKey signs nonce + body + apiKey and returns uppercase hex.
func NonceBodyKey(secret, nonce, body, apiKey string) string {
	return strings.ToUpper(HexSHA256(secret, nonce+body+apiKey))
}

// PathDigest signs uriPath || SHA256(nonce + body) with HMAC-SHA512 keyed by
// the base64-decoded secret.
func PathDigest(secret, uriPath, nonce, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return "", fmt.Errorf("%w: api secret is not base64: %v", core.ErrInvalidKey, err)
	}
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(uriPath))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Prehash joins the parts of a header-signed request in order.
func Prehash(parts ...string) string {
	return strings.Join(parts, "")
}

// Nonce hands out strictly increasing microsecond values, so two requests
// built in the same instant never reuse one.
type Nonce struct {
	last atomic.Int64
}

func (n *Nonce) Next(now time.Time) int64 {
	candidate := now.UnixMicro()
	for {
		prev := n.last.Load()
		next := candidate
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func (n *Nonce) NextString(now time.Time) string {
	return strconv.FormatInt(n.Next(now), 10)
}
