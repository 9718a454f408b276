// Package codec transforms raw byte chunks into transport-safe envelopes.
//
// A payload is the chunk base64-encoded, then sealed with AES-256-GCM under
// a process-wide key derived from the configured secret. The random nonce is
// prepended to the ciphertext so the decoder needs no independent state.
// This layer is transport obfuscation, not a security boundary: every relay
// participant shares the same key.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"

	apperrors "transfer-relay/errors"
)

// DefaultChunkSize balances websocket message overhead against per-chunk
// compute. 256 KiB matches what the streaming path has always used.
const DefaultChunkSize = 256 * 1024

const keySize = 32

// scrypt parameters follow the library's recommended interactive defaults.
var scryptSalt = []byte("transfer-relay.chunk-codec.v1")

type Codec struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from secret and builds the AEAD once;
// per-chunk work is then a single Seal or Open.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("codec secret must not be empty")
	}
	key, err := scrypt.Key([]byte(secret), scryptSalt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive codec key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// EncodeChunk converts a raw chunk into its transport-safe base64 form.
// Kept separate from Seal so client-relayed chunks, which arrive already
// base64-encoded, go through the exact same sealing path as server reads.
func EncodeChunk(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodedLen checks that an inbound encoded chunk really is base64 and
// reports its raw size. Client-relayed payloads go through this before
// sealing so garbage is dropped at the door.
func DecodedLen(encoded string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, fmt.Errorf("%w: chunk encoding: %v", apperrors.ErrDecode, err)
	}
	return len(raw), nil
}

// Seal encrypts an already-encoded chunk into the envelope payload.
func (c *Codec) Seal(encoded string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(encoded), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Encode is the full raw-chunk path: base64 then seal.
func (c *Codec) Encode(raw []byte) (string, error) {
	return c.Seal(EncodeChunk(raw))
}

// Decode is the inverse of Encode. Any malformation (bad outer base64,
// truncated nonce, key mismatch, bad inner base64) surfaces as ErrDecode.
func (c *Codec) Decode(payload string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: outer encoding: %v", apperrors.ErrDecode, err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: payload shorter than nonce", apperrors.ErrDecode)
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	encoded, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", apperrors.ErrDecode, err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: inner encoding: %v", apperrors.ErrDecode, err)
	}
	return raw, nil
}
