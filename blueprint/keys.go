package blueprint

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Verifier checks a signature of msg by the holder of publicKey.
type Verifier interface {
	Verify(msg []byte, signature, publicKey string) error
}

// Ed25519Verifier verifies base64 Ed25519 signatures.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(msg []byte, signature, publicKey string) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", InvalidSignature, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", InvalidSignature, err)
	}
	if !ed25519.Verify(pub, msg, sig) {
		return InvalidSignature
	}
	return nil
}

// ParsePublicKey accepts an OpenSSH "ssh-ed25519 AAAA... comment"
// line or a raw base64 32-byte key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "ssh-") {
		pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
		if err != nil {
			return nil, err
		}
		cpk, is := pk.(ssh.CryptoPublicKey)
		if !is {
			return nil, fmt.Errorf("unsupported key type %s", pk.Type())
		}
		pub, is := cpk.CryptoPublicKey().(ed25519.PublicKey)
		if !is {
			return nil, fmt.Errorf("not an ed25519 key: %s", pk.Type())
		}
		return pub, nil
	}
	bs, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(bs) != ed25519.PublicKeySize {
		return nil, errors.New("bad public key length")
	}
	return ed25519.PublicKey(bs), nil
}

// MarshalPublicKey renders the key in OpenSSH authorized_keys format.
func MarshalPublicKey(pub ed25519.PublicKey) (string, error) {
	pk, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pk))), nil
}

// GenerateKey makes a new Ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs the canonical form of the content.
func Sign(priv ed25519.PrivateKey, c *Content) (string, error) {
	bs, err := Canonical(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, bs)), nil
}

// EncodePrivateKey and DecodePrivateKey handle the base64 seed form
// used for key files.
func EncodePrivateKey(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv.Seed())
}

func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	bs, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(bs) != ed25519.SeedSize {
		return nil, errors.New("bad private key length")
	}
	return ed25519.NewKeyFromSeed(bs), nil
}
