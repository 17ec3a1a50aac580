package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// SecureFilePermissions for the network key and peer state
const SecureFilePermissions = 0o600

// SecureDirPermissions for the base directory holding them
const SecureDirPermissions = 0o700

// SanitizePath resolves userPath against basePath and rejects results that
// escape basePath. Relative paths are joined to basePath first.
func SanitizePath(basePath, userPath string) (string, error) {
	if basePath == "" {
		return "", oops.Errorf("base path cannot be empty")
	}
	cleanBase, err := filepath.Abs(filepath.Clean(basePath))
	if err != nil {
		return "", oops.Wrapf(err, "invalid base path")
	}
	if userPath == "" {
		return cleanBase, nil
	}

	resolved := userPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cleanBase, resolved)
	}
	resolved, err = filepath.Abs(filepath.Clean(resolved))
	if err != nil {
		return "", oops.Wrapf(err, "invalid path")
	}

	if resolved != cleanBase && !strings.HasPrefix(resolved, cleanBase+string(filepath.Separator)) {
		log.WithFields(logger.Fields{
			"at":            "SanitizePath",
			"reason":        "path_traversal_attempt",
			"base_path":     cleanBase,
			"resolved_path": resolved,
		}).Warn("potential path traversal blocked")
		return "", oops.Errorf("path %q escapes base directory %q", userPath, basePath)
	}
	return resolved, nil
}

// resolveDataPath places a relative file setting inside baseDir. Absolute
// paths are taken as given. A relative path that escapes baseDir is returned
// unchanged so Validate reports it.
func resolveDataPath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	resolved, err := SanitizePath(baseDir, p)
	if err != nil {
		return p
	}
	return resolved
}

// CreateSecureDirectory creates a directory that will hold the network key
func CreateSecureDirectory(path string) error {
	cleanPath := filepath.Clean(path)

	if err := os.MkdirAll(cleanPath, SecureDirPermissions); err != nil {
		return oops.Wrapf(err, "failed to create secure directory %q", cleanPath)
	}

	// MkdirAll keeps the mode of a directory that already existed
	if err := os.Chmod(cleanPath, SecureDirPermissions); err != nil {
		log.WithFields(logger.Fields{
			"at":     "CreateSecureDirectory",
			"reason": "chmod_failed",
			"path":   cleanPath,
			"error":  err.Error(),
		}).Warn("could not set secure permissions on directory")
	}
	return nil
}

// WriteSecureFile writes data readable by the owner only
func WriteSecureFile(path string, data []byte) error {
	cleanPath := filepath.Clean(path)

	if err := os.WriteFile(cleanPath, data, SecureFilePermissions); err != nil {
		return oops.Wrapf(err, "failed to write secure file %q", cleanPath)
	}

	// the mode argument only applies to newly created files
	if err := os.Chmod(cleanPath, SecureFilePermissions); err != nil {
		log.WithFields(logger.Fields{
			"at":     "WriteSecureFile",
			"reason": "chmod_failed",
			"path":   cleanPath,
			"error":  err.Error(),
		}).Warn("could not set secure permissions on file")
	}
	return nil
}

// IsPathSecure reports whether path grants no permission bits beyond
// maxMode. A missing path is secure.
func IsPathSecure(path string, maxMode os.FileMode) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return info.Mode().Perm()&^maxMode == 0, nil
}

// SecureExistingPath restricts an existing file to 0600 or directory to 0700.
// isDir states which one path must be.
func SecureExistingPath(path string, isDir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	mode := os.FileMode(SecureFilePermissions)
	switch {
	case info.IsDir() && !isDir:
		return oops.Errorf("expected file but found directory: %s", path)
	case !info.IsDir() && isDir:
		return oops.Errorf("expected directory but found file: %s", path)
	case isDir:
		mode = SecureDirPermissions
	}

	if err := os.Chmod(path, mode); err != nil {
		return oops.Wrapf(err, "failed to secure path %q", path)
	}
	log.WithFields(logger.Fields{
		"at":     "SecureExistingPath",
		"reason": "permissions_updated",
		"path":   path,
		"mode":   fmt.Sprintf("%04o", mode),
	}).Debug("updated path permissions")
	return nil
}

// RestrictSecretFile narrows a key or state file that other users can read
// back to owner-only access
func RestrictSecretFile(path string) {
	if ok, err := IsPathSecure(path, SecureFilePermissions); err != nil || ok {
		return
	}
	log.WithFields(logger.Fields{
		"at":     "RestrictSecretFile",
		"reason": "loose_permissions",
		"path":   path,
	}).Warn("secret file was readable by other users, restricting to owner")

	if err := SecureExistingPath(path, false); err != nil {
		log.WithFields(logger.Fields{
			"at":     "RestrictSecretFile",
			"reason": "chmod_failed",
			"path":   path,
		}).WithError(err).Warn("could not restrict secret file")
	}
}
