package crypto

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/crypto/aes"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	encryptionSeedByte     = 0xAA
	authenticationSeedByte = 0x55
)

var ErrInvalidNetworkKey = errors.New("network key must be 16 bytes of hex")

// NetworkKey is the shared S0 network key
type NetworkKey = aes.Key128

// KeyMaterial holds the two keys derived from a network key.
// It is immutable once derived and is shared by pointer.
type KeyMaterial struct {
	encryption     aes.Key128
	authentication aes.Key128
	network        NetworkKey
}

// DeriveKeyMaterial derives the encryption key E(k, 0xAA..) and the
// authentication key E(k, 0x55..) from networkKey
func DeriveKeyMaterial(networkKey NetworkKey) (*KeyMaterial, error) {
	var encSeed, authSeed aes.Block
	for i := range encSeed {
		encSeed[i] = encryptionSeedByte
		authSeed[i] = authenticationSeedByte
	}

	bc, err := aes.NewBlockCipher(networkKey[:])
	if err != nil {
		return nil, oops.Wrapf(err, "failed to derive key material")
	}
	enc, err := bc.Encrypt(encSeed)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to derive encryption key")
	}
	auth, err := bc.Encrypt(authSeed)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to derive authentication key")
	}

	m := &KeyMaterial{
		encryption:     aes.Key128(enc),
		authentication: aes.Key128(auth),
		network:        networkKey,
	}
	log.WithFields(logger.Fields{
		"at":  "DeriveKeyMaterial",
		"kcv": m.KeyCheckValue(),
	}).Debug("derived network key material")
	return m, nil
}

// BootstrapKeyMaterial returns the material of the all-zero temporary key
// used to carry NetworkKeySet to a node being included.
func BootstrapKeyMaterial() (*KeyMaterial, error) {
	return DeriveKeyMaterial(NetworkKey{})
}

// EncryptionKey returns the payload encryption key
func (m *KeyMaterial) EncryptionKey() aes.Key128 {
	return m.encryption
}

// AuthenticationKey returns the MAC key
func (m *KeyMaterial) AuthenticationKey() aes.Key128 {
	return m.authentication
}

// NetworkKey returns the key this material was derived from
func (m *KeyMaterial) NetworkKey() NetworkKey {
	return m.network
}

// KeyCheckValue returns the first three bytes of E(networkKey, 0) in hex.
// It identifies a key in logs and CLI output without revealing it.
func (m *KeyMaterial) KeyCheckValue() string {
	out, err := aes.EncryptBlock(m.network, aes.Block{})
	if err != nil {
		return ""
	}
	return hex.EncodeToString(out[:3])
}

// ParseNetworkKey accepts either 32 hex digits or a comma separated list of
// sixteen 0x-prefixed bytes ("0x01, 0x02, ...").
func ParseNetworkKey(s string) (NetworkKey, error) {
	var key NetworkKey
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != len(key) {
			return key, oops.Wrapf(ErrInvalidNetworkKey, "got %d bytes", len(parts))
		}
		var sb strings.Builder
		for _, p := range parts {
			p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), "0x")
			if len(p) == 1 {
				p = "0" + p
			}
			sb.WriteString(p)
		}
		s = sb.String()
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")

	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, oops.Wrapf(ErrInvalidNetworkKey, "%s", err.Error())
	}
	if len(raw) != len(key) {
		return key, oops.Wrapf(ErrInvalidNetworkKey, "got %d bytes", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// GenerateNetworkKey returns a random network key
func GenerateNetworkKey() (NetworkKey, error) {
	var key NetworkKey
	if _, err := rand.Read(key[:]); err != nil {
		return key, oops.Wrapf(err, "failed to generate network key")
	}
	return key, nil
}
