// Package base58 provides Base58 and Base58Check encoding, used only to
// render a short, human-friendly fingerprint for a peer's RSA public key
// in logs and CLI output. The wire identity itself stays the full PEM
// string (the wire format never carries a Base58 address).
package base58

import (
	"errors"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	base58Base        = big.NewInt(58)
	bigZero           = big.NewInt(0)
	base58AlphabetMap [128]int8
)

func init() {
	for i := range base58AlphabetMap {
		base58AlphabetMap[i] = -1
	}
	for i, c := range base58Alphabet {
		base58AlphabetMap[c] = int8(i)
	}
}

// Encode encodes bytes to a Base58 string.
func Encode(data []byte) string {
	x := new(big.Int).SetBytes(data)

	var result []byte
	for x.Cmp(bigZero) > 0 {
		mod := new(big.Int)
		x.DivMod(x, base58Base, mod)
		result = append(result, base58Alphabet[mod.Int64()])
	}

	for _, b := range data {
		if b != 0 {
			break
		}
		result = append(result, base58Alphabet[0])
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return string(result)
}

// Decode decodes a Base58 string to bytes.
func Decode(input string) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}

	x := big.NewInt(0)
	for _, c := range input {
		if c > 127 || base58AlphabetMap[c] == -1 {
			return nil, ErrInvalidBase58
		}
		x.Mul(x, base58Base)
		x.Add(x, big.NewInt(int64(base58AlphabetMap[c])))
	}

	decoded := x.Bytes()

	for _, c := range input {
		if c != rune(base58Alphabet[0]) {
			break
		}
		decoded = append([]byte{0}, decoded...)
	}

	return decoded, nil
}

// ErrInvalidBase58 is returned for invalid Base58 strings.
var ErrInvalidBase58 = errors.New("invalid base58 string")
