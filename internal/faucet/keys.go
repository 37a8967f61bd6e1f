// Package faucet implements the signed, encrypted faucet request pipeline:
// key derivation from the configured seed, the length-prefixed wire frame,
// the per-user rolling rate limit and the outbound connection to the external
// faucet server.
package faucet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"
)

// seedLen is the minimum seed length key derivation accepts.
const seedLen = 32

// KeyRing holds everything derived from the secret seed: the server's wallet
// address, the box keypair used to encrypt frames for the external faucet
// server and the sign keypair used for detached signatures.
type KeyRing struct {
	Address    string
	BoxPublic  *[32]byte
	BoxSecret  *[32]byte
	SignPublic *[32]byte
	SignSecret *[64]byte
}

// DeriveKeys derives the full key ring from the seed. Both keypairs come from
// HKDF-SHA256 streams salted with the server name, so two servers sharing a
// seed still end up with distinct keys.
func DeriveKeys(keyData []byte, serverName string) (*KeyRing, error) {
	if len(keyData) < seedLen {
		return nil, fmt.Errorf("key data must be at least %d bytes, got %d", seedLen, len(keyData))
	}
	if serverName == "" {
		return nil, fmt.Errorf("server name must not be empty")
	}

	boxPublic, boxSecret, err := box.GenerateKey(hkdf.New(sha256.New, keyData, []byte(serverName), []byte("encrypt")))
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption keypair: %w", err)
	}
	signPublic, signSecret, err := sign.GenerateKey(hkdf.New(sha256.New, keyData, []byte(serverName), []byte("sign")))
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing keypair: %w", err)
	}

	return &KeyRing{
		Address:    hex.EncodeToString(keyData[:seedLen]),
		BoxPublic:  boxPublic,
		BoxSecret:  boxSecret,
		SignPublic: signPublic,
		SignSecret: signSecret,
	}, nil
}
