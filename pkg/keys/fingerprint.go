package keys

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 used only for a display-only fingerprint, not wire identity

	"github.com/pouria-shahmiri/greychain/pkg/base58"
)

// addressVersion is an arbitrary version byte for the fingerprint's
// Base58Check rendering; it carries no network meaning.
const addressVersion byte = 0x2a

// Fingerprint renders a short, human-readable handle for this keypair's
// public key: Base58Check(RIPEMD160(SHA256(PEM text))). It is used only
// for log lines and CLI output -- the wire identity stays the full PEM
// string.
func (kp *KeyPair) Fingerprint() string {
	return FingerprintPEM(kp.PublicKeyPEM())
}

// FingerprintPEM renders the fingerprint for an arbitrary peer's PEM
// identity, e.g. for logging a remote sender.
func FingerprintPEM(pemStr string) string {
	sum := sha256.Sum256([]byte(pemStr))
	r := ripemd160.New()
	r.Write(sum[:])
	hash160 := r.Sum(nil)
	return base58.EncodeCheck(addressVersion, hash160)
}
