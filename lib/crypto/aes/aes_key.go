package aes

import "github.com/go-zwave/go-s0/lib/crypto/types"

// OFBKey represents a key and IV pair for AES-128-OFB
type OFBKey struct {
	Key Key128 // AES-128 key
	IV  Block  // Initialization Vector
}

var _ types.SymmetricKey = (*OFBKey)(nil)

// NewEncrypter creates a new OFBCipher
func (k *OFBKey) NewEncrypter() (types.Encrypter, error) {
	log.Debug("Creating new OFB encrypter")
	return &OFBCipher{Key: k.Key, IV: k.IV}, nil
}

// Len returns the length of the key
func (k *OFBKey) Len() int {
	return len(k.Key)
}

// NewDecrypter creates a new OFBCipher
func (k *OFBKey) NewDecrypter() (types.Decrypter, error) {
	return &OFBCipher{Key: k.Key, IV: k.IV}, nil
}
