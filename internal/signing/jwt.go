package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"spot-connect/internal/core"
)

const (
	TokenIssuer   = "cdp"
	TokenLifetime = 120 * time.Second

	es256CoordSize = 32
)

// JWTSigner issues short-lived ES256 bearer tokens bound to one request.
type JWTSigner struct {
	keyName string
	signer  crypto.Signer
	now     func() time.Time
	nonce   func() string
}

// NewJWTSigner parses privateKey through the full normalization chain.
func NewJWTSigner(keyName, privateKey string) (*JWTSigner, error) {
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return nil, fmt.Errorf("%w: key name required", core.ErrMissingCredentials)
	}
	key, err := ParseECPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return NewJWTSignerFromSigner(keyName, key), nil
}

// NewJWTSignerFromSigner accepts any P-256 crypto.Signer. Signers other than
// *ecdsa.PrivateKey are assumed to emit ASN.1 DER signatures.
func NewJWTSignerFromSigner(keyName string, signer crypto.Signer) *JWTSigner {
	return &JWTSigner{
		keyName: keyName,
		signer:  signer,
		now:     time.Now,
		nonce:   randomNonce,
	}
}

func (s *JWTSigner) KeyName() string { return s.keyName }

// Token signs {iss, sub, nbf, exp, uri="METHOD host path"} for one request.
func (s *JWTSigner) Token(method, host, path string) (string, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"iss": TokenIssuer,
		"sub": s.keyName,
		"nbf": now.Unix(),
		"exp": now.Add(TokenLifetime).Unix(),
		"uri": strings.ToUpper(method) + " " + host + path,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = s.nonce()

	if key, ok := s.signer.(*ecdsa.PrivateKey); ok {
		return token.SignedString(key)
	}
	signingString, err := token.SigningString()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(signingString))
	der, err := s.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return "", err
	}
	raw, err := DERToRawSignature(der, es256CoordSize)
	if err != nil {
		return "", err
	}
	return signingString + "." + token.EncodeSegment(raw), nil
}

// DERToRawSignature converts SEQUENCE{INTEGER r, INTEGER s} into the
// fixed-width r||s form, each half left-padded to size bytes.
func DERToRawSignature(der []byte, size int) ([]byte, error) {
	input := cryptobyte.String(der)
	var body cryptobyte.String
	r, sVal := new(big.Int), new(big.Int)
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) || !input.Empty() ||
		!body.ReadASN1Integer(r) || !body.ReadASN1Integer(sVal) || !body.Empty() {
		return nil, fmt.Errorf("%w: malformed DER signature", core.ErrInvalidKey)
	}
	if r.Sign() <= 0 || sVal.Sign() <= 0 || len(r.Bytes()) > size || len(sVal.Bytes()) > size {
		return nil, fmt.Errorf("%w: signature component out of range", core.ErrInvalidKey)
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	sVal.FillBytes(out[size:])
	return out, nil
}

func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
