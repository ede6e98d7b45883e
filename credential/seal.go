package credential

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

const (
	sealVersion = 1
	sealPrefix  = "APIKITENC1\n"
	saltSize    = 16
)

var (
	ErrPassphraseRequired = errors.New("credential: passphrase required")
	ErrAuthFailed         = errors.New("credential: wrong passphrase or corrupted file")
	ErrInvalidEnvelope    = errors.New("credential: invalid envelope")
)

type envelope struct {
	Version    int    `yaml:"version"`
	KDF        string `yaml:"kdf"`
	Salt       string `yaml:"salt"`
	Nonce      string `yaml:"nonce"`
	Ciphertext string `yaml:"ciphertext"`
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealPrefix))
}

// seal encrypts plaintext with XChaCha20-Poly1305 under an argon2id key.
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	enc := base64.StdEncoding
	doc, err := yaml.Marshal(envelope{
		Version:    sealVersion,
		KDF:        "argon2id",
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(aead.Seal(nil, nonce, plaintext, nil)),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(sealPrefix), doc...), nil
}

func open(passphrase string, data []byte) ([]byte, error) {
	if !isSealed(data) {
		return nil, ErrInvalidEnvelope
	}
	var env envelope
	if err := yaml.Unmarshal(data[len(sealPrefix):], &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Version != sealVersion || env.KDF != "argon2id" {
		return nil, ErrInvalidEnvelope
	}
	enc := base64.StdEncoding
	salt, err1 := enc.DecodeString(env.Salt)
	nonce, err2 := enc.DecodeString(env.Nonce)
	ciphertext, err3 := enc.DecodeString(env.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalidEnvelope
	}

	key := deriveKey(passphrase, salt)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 2, 64*1024, 1, chacha20poly1305.KeySize)
}
