// Package securestore seals small local state blobs with a passphrase using
// argon2id key derivation and XChaCha20-Poly1305.
package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	magicPrefix     = "PHXENC1\n"
	kdfName         = "argon2id"
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
	ErrPlaintext  = errors.New("securestore data is not sealed")
)

// KDFParams are the argon2id cost parameters recorded in every envelope.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

var DefaultKDF = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Sealer binds a passphrase and KDF cost. The zero KDF means DefaultKDF.
type Sealer struct {
	passphrase string
	kdf        KDFParams
}

func NewSealer(passphrase string, kdf KDFParams) *Sealer {
	if kdf.Time == 0 || kdf.MemoryKB == 0 || kdf.Threads == 0 {
		kdf = DefaultKDF
	}
	return &Sealer{passphrase: passphrase, kdf: kdf}
}

// Seal returns the magic-prefixed JSON envelope for plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	env, err := s.SealEnvelope(plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(magicPrefix), raw...), nil
}

func (s *Sealer) SealEnvelope(plaintext []byte) (*Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(s.passphrase, salt, s.kdf)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     s.kdf.Time,
		KDFMemoryKB: s.kdf.MemoryKB,
		KDFThreads:  s.kdf.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrPlaintext
	}
	var env Envelope
	if err := json.Unmarshal(data[len(magicPrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	return s.OpenEnvelope(&env)
}

// OpenEnvelope uses the cost parameters stored in env, not the sealer's.
func (s *Sealer) OpenEnvelope(env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	key := deriveKey(s.passphrase, env.Salt, KDFParams{Time: env.KDFTime, MemoryKB: env.KDFMemoryKB, Threads: env.KDFThreads})
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magicPrefix))
}

func deriveKey(passphrase string, salt []byte, kdf KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdf.Time, kdf.MemoryKB, kdf.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
