package config

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/util"
	"github.com/samber/oops"
)

// ReadNetworkKey loads the network key stored at path. The file holds the
// key in any form crypto.ParseNetworkKey accepts.
func ReadNetworkKey(path string) (crypto.NetworkKey, error) {
	RestrictSecretFile(path)

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return crypto.NetworkKey{}, oops.Wrapf(err, "failed to read network key")
	}
	return crypto.ParseNetworkKey(string(data))
}

// WriteNetworkKey stores key at path as hex, creating its directory with
// owner-only permissions. An existing key is never overwritten.
func WriteNetworkKey(path string, key crypto.NetworkKey) error {
	if util.CheckFileExists(path) {
		return oops.Errorf("network key %s already exists", path)
	}
	if err := CreateSecureDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	return WriteSecureFile(path, []byte(hex.EncodeToString(key[:])+"\n"))
}
