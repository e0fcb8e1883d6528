// Package keys wraps RSA keypair generation, PEM identity rendering, and
// RSA-PSS signing/verification -- the node's stable network identity and
// signing capability.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Bits is the RSA key size in bits.
const Bits = 2048

// KeyPair owns an RSA private key plus the derived public half. It is the
// node's identity: PublicKeyPEM() is the value that appears on the wire.
type KeyPair struct {
	priv *rsa.PrivateKey
}

// Generate creates a new random RSA keypair.
func Generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, Bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKeyPEM renders the public half as a PKIX PEM string -- the wire
// identity carried in every packet's sender field.
func (kp *KeyPair) PublicKeyPEM() string {
	return EncodePublicKeyPEM(&kp.priv.PublicKey)
}

// EncodePublicKeyPEM renders an RSA public key as a PKIX PEM string.
func EncodePublicKeyPEM(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		panic(fmt.Sprintf("marshal public key: %v", err))
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// ParsePublicKeyPEM parses a PEM string back into an RSA public key.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

// Sign signs the exact bytes in content with RSA-PSS/SHA-256. The caller
// must pass the full fixed-size content window, padding included, so the
// signature is defined over the whole buffer.
func (kp *KeyPair) Sign(content []byte) ([]byte, error) {
	digest := sha256.Sum256(content)
	return rsa.SignPSS(rand.Reader, kp.priv, crypto.SHA256, digest[:], nil)
}

// VerifyWithPEM verifies a signature over content under the RSA public key
// encoded in pemStr. Any failure (bad PEM, bad signature) returns false.
func VerifyWithPEM(pemStr string, content, sig []byte) bool {
	pub, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(content)
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil)
	return err == nil
}
