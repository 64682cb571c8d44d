package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	// AlgEthereum verifies a 65-byte personal_sign signature by recovering
	// the signer; publicKey is the expected wallet address.
	AlgEthereum = "eth"
	// AlgSecp256k1 verifies r||s against an explicit public key.
	AlgSecp256k1 = "secp256k1"
)

func VerifySignature(alg, publicKey, message, signature string) error {
	switch strings.ToLower(alg) {
	case AlgEthereum:
		want, err := NormalizeAddress(publicKey)
		if err != nil {
			return err
		}
		sig, err := decodeHex(signature)
		if err != nil {
			return errors.New("signature is not hex")
		}
		got, err := RecoverAddress(message, sig)
		if err != nil {
			return err
		}
		if got != want {
			return errors.New("signature does not match wallet")
		}
		return nil
	case AlgSecp256k1:
		pubKeyBytes, sigBytes, err := decodeHexPair(publicKey, signature)
		if err != nil {
			return err
		}
		pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
		if err != nil {
			return err
		}
		if len(sigBytes) < 64 {
			return errors.New("invalid secp256k1 signature length")
		}
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
			return errors.New("invalid secp256k1 signature")
		}
		if overflow := s.SetByteSlice(sigBytes[32:64]); overflow {
			return errors.New("invalid secp256k1 signature")
		}
		if !ecdsa.NewSignature(&r, &s).Verify(ethereumPersonalHash([]byte(message)), pubKey) {
			return errors.New("invalid secp256k1 signature")
		}
		return nil
	default:
		return fmt.Errorf("unsupported alg: %s", alg)
	}
}

// RecoverAddress returns the address that produced an Ethereum personal_sign
// signature (r||s||v, v in {0,1,27,28}) over message.
func RecoverAddress(message string, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", errors.New("signature must be 65 bytes")
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", errors.New("invalid recovery id")
	}
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, ethereumPersonalHash([]byte(message)))
	if err != nil {
		return "", err
	}
	return PublicKeyToAddress(pub), nil
}

// SignPersonal produces an Ethereum personal_sign signature as 0x hex.
func SignPersonal(key *secp256k1.PrivateKey, message string) string {
	compact := ecdsa.SignCompact(key, ethereumPersonalHash([]byte(message)), false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return "0x" + hex.EncodeToString(sig)
}

func PublicKeyToAddress(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// AddressFromPublicKey accepts a compressed or uncompressed hex key.
func AddressFromPublicKey(publicKey string) (string, error) {
	raw, err := decodeHex(publicKey)
	if err != nil {
		return "", err
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return "", err
	}
	return PublicKeyToAddress(pub), nil
}

func decodeHexPair(pub, sig string) ([]byte, []byte, error) {
	pubBytes, err := decodeHex(pub)
	if err != nil {
		return nil, nil, err
	}
	sigBytes, err := decodeHex(sig)
	if err != nil {
		return nil, nil, err
	}
	return pubBytes, sigBytes, nil
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}

func ethereumPersonalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}
