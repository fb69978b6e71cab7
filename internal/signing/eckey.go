package signing

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"spot-connect/internal/core"
)

const (
	p256ScalarSize = 32
	p256PointSize  = 65
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}

	errNotP256 = errors.New("key is not on P-256")
)

// ParseECPrivateKey accepts a P-256 key as pasted by a user: PKCS8 or SEC1
// PEM, quoted or with literal "\n" escapes, or bare base64 DER. When the x509
// parsers refuse the bytes, the SEC1 body is re-wrapped as PKCS8 and, failing
// that, hand-parsed into its raw scalar and public point.
func ParseECPrivateKey(text string) (*ecdsa.PrivateKey, error) {
	der, err := decodeKeyMaterial(text)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: pkcs8 key is %T, want ECDSA", core.ErrInvalidKey, key)
		}
		return requireP256(ec)
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return requireP256(key)
	}
	if wrapped, err := WrapSEC1AsPKCS8(der); err == nil {
		if key, err := x509.ParsePKCS8PrivateKey(wrapped); err == nil {
			if ec, ok := key.(*ecdsa.PrivateKey); ok {
				return requireP256(ec)
			}
		}
	}
	sec1 := der
	if inner, ok := unwrapPKCS8(der); ok {
		sec1 = inner
	}
	scalar, point, err := ParseSEC1(sec1)
	if err != nil {
		return nil, err
	}
	return KeyFromRaw(scalar, point)
}

func decodeKeyMaterial(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'")
	text = strings.ReplaceAll(text, `\r\n`, "\n")
	text = strings.ReplaceAll(text, `\n`, "\n")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty private key", core.ErrMissingCredentials)
	}
	if block, _ := pem.Decode([]byte(text)); block != nil {
		switch block.Type {
		case "EC PRIVATE KEY", "PRIVATE KEY":
			return block.Bytes, nil
		default:
			return nil, fmt.Errorf("%w: unexpected PEM block %q", core.ErrInvalidKey, block.Type)
		}
	}
	compact := strings.Join(strings.Fields(text), "")
	if raw, err := base64.StdEncoding.DecodeString(compact); err == nil && len(raw) > 0 {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: private key is neither PEM nor base64 DER", core.ErrInvalidKey)
}

// WrapSEC1AsPKCS8 builds PrivateKeyInfo{0, {id-ecPublicKey, prime256v1}, OCTET STRING(sec1)}.
func WrapSEC1AsPKCS8(sec1 []byte) ([]byte, error) {
	if len(sec1) == 0 {
		return nil, fmt.Errorf("%w: empty SEC1 body", core.ErrInvalidKey)
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidPublicKeyECDSA)
			b.AddASN1ObjectIdentifier(oidNamedCurveP256)
		})
		b.AddASN1OctetString(sec1)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
	}
	return out, nil
}

func unwrapPKCS8(der []byte) ([]byte, bool) {
	input := cryptobyte.String(der)
	var info, algo, inner cryptobyte.String
	var version int64
	if !input.ReadASN1(&info, cbasn1.SEQUENCE) ||
		!info.ReadASN1Integer(&version) || version != 0 ||
		!info.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!info.ReadASN1(&inner, cbasn1.OCTET_STRING) {
		return nil, false
	}
	var oid asn1.ObjectIdentifier
	if !algo.ReadASN1ObjectIdentifier(&oid) || !oid.Equal(oidPublicKeyECDSA) {
		return nil, false
	}
	return []byte(inner), true
}

// ParseSEC1 reads ECPrivateKey{1, OCTET STRING d, [0] curve OPTIONAL,
// [1] BIT STRING point OPTIONAL}. The scalar is returned left-padded to 32
// bytes; point is nil when the key omits it.
func ParseSEC1(der []byte) (scalar, point []byte, err error) {
	input := cryptobyte.String(der)
	var body, priv cryptobyte.String
	var version int64
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, nil, fmt.Errorf("%w: SEC1 body is not a SEQUENCE", core.ErrInvalidKey)
	}
	if !body.ReadASN1Integer(&version) || version != 1 {
		return nil, nil, fmt.Errorf("%w: SEC1 version must be 1", core.ErrInvalidKey)
	}
	if !body.ReadASN1(&priv, cbasn1.OCTET_STRING) {
		return nil, nil, fmt.Errorf("%w: SEC1 private scalar missing", core.ErrInvalidKey)
	}

	var params cryptobyte.String
	var hasParams bool
	if !body.ReadOptionalASN1(&params, &hasParams, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, nil, fmt.Errorf("%w: malformed SEC1 parameters", core.ErrInvalidKey)
	}
	if hasParams {
		var curve asn1.ObjectIdentifier
		if !params.ReadASN1ObjectIdentifier(&curve) {
			return nil, nil, fmt.Errorf("%w: malformed curve identifier", core.ErrInvalidKey)
		}
		if !curve.Equal(oidNamedCurveP256) {
			return nil, nil, fmt.Errorf("%w: %w (curve %s)", core.ErrInvalidKey, errNotP256, curve)
		}
	}

	var pubWrap cryptobyte.String
	var hasPub bool
	if !body.ReadOptionalASN1(&pubWrap, &hasPub, cbasn1.Tag(1).Constructed().ContextSpecific()) {
		return nil, nil, fmt.Errorf("%w: malformed SEC1 public key", core.ErrInvalidKey)
	}
	if hasPub {
		var bits asn1.BitString
		if !pubWrap.ReadASN1BitString(&bits) {
			return nil, nil, fmt.Errorf("%w: malformed SEC1 public key bits", core.ErrInvalidKey)
		}
		point = bits.RightAlign()
	}

	scalar = bytes.TrimLeft(priv, "\x00")
	if len(scalar) == 0 || len(scalar) > p256ScalarSize {
		return nil, nil, fmt.Errorf("%w: private scalar has %d bytes", core.ErrInvalidKey, len(priv))
	}
	padded := make([]byte, p256ScalarSize)
	copy(padded[p256ScalarSize-len(scalar):], scalar)
	return padded, point, nil
}

// KeyFromRaw builds a P-256 key from the 32-byte scalar and, when present,
// the 65-byte uncompressed point, which must match the scalar.
func KeyFromRaw(scalar, point []byte) (*ecdsa.PrivateKey, error) {
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
	}
	derived := priv.PublicKey().Bytes()
	if len(point) > 0 {
		if len(point) != p256PointSize || point[0] != 0x04 {
			return nil, fmt.Errorf("%w: public point must be %d uncompressed bytes", core.ErrInvalidKey, p256PointSize)
		}
		if !bytes.Equal(point, derived) {
			return nil, fmt.Errorf("%w: public point does not match private scalar", core.ErrInvalidKey)
		}
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(derived[1:33]),
			Y:     new(big.Int).SetBytes(derived[33:65]),
		},
		D: new(big.Int).SetBytes(scalar),
	}, nil
}

func requireP256(key *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidKey, errNotP256)
	}
	return key, nil
}
