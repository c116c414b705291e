package wallet

import (
	"crypto/sha256"
	"encoding/base64"
)

// addressFromModulus hashes the raw RSA modulus bytes carried in a JWK's
// base64url-encoded "n" field and re-encodes the digest as base64url,
// the network's standard address derivation.
func addressFromModulus(nBase64URL string) string {
	raw, err := base64.RawURLEncoding.DecodeString(nBase64URL)
	if err != nil {
		raw = []byte(nBase64URL)
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
