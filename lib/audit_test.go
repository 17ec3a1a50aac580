// Package lib holds cross-package audit tests covering randomness, tag
// comparison, file permissions and input handling.
package lib

import (
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/security"
)

// walkSources calls fn for every non-test Go file below lib/
func walkSources(t *testing.T, mode parser.Mode, fn func(path string, fset *token.FileSet, file *ast.File)) {
	t.Helper()
	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, mode)
		if err != nil {
			t.Errorf("failed to parse %s: %v", path, err)
			return nil
		}
		fn(filepath.ToSlash(path), fset, file)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk lib directory: %v", err)
	}
}

// TestAllRandomnessFromCryptoRand verifies that nonces, IVs and keys never come
// from math/rand.
func TestAllRandomnessFromCryptoRand(t *testing.T) {
	walkSources(t, parser.ImportsOnly, func(path string, _ *token.FileSet, file *ast.File) {
		for _, imp := range file.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if p == "math/rand" || p == "math/rand/v2" {
				t.Errorf("File %s imports %s - use go-i2p/crypto/rand instead", path, p)
			}
		}
	})
}

// TestTagComparisonIsConstantTime verifies that authentication tags are
// compared with crypto/subtle and never with bytes.Equal.
func TestTagComparisonIsConstantTime(t *testing.T) {
	content, err := os.ReadFile("crypto/cbcmac/cbcmac.go")
	if err != nil {
		t.Fatalf("Failed to read cbcmac.go: %v", err)
	}
	if !strings.Contains(string(content), "subtle.ConstantTimeCompare") {
		t.Error("cbcmac.Verify should use subtle.ConstantTimeCompare")
	}

	for _, file := range []string{"crypto/cbcmac/cbcmac.go", "security/codec.go"} {
		content, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", file, err)
		}
		if strings.Contains(string(content), "bytes.Equal") {
			t.Errorf("%s compares secret material with bytes.Equal", file)
		}
	}
}

// TestSecretsWrittenOwnerOnly verifies that os.WriteFile is only called from
// the secure file helper, so key and peer state files are never world
// readable.
func TestSecretsWrittenOwnerOnly(t *testing.T) {
	walkSources(t, parser.SkipObjectResolution, func(path string, fset *token.FileSet, file *ast.File) {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "os" && sel.Sel.Name == "WriteFile" {
				if path != "config/security.go" {
					t.Errorf("%s writes a file directly; use config.WriteSecureFile", fset.Position(call.Pos()))
				}
			}
			return true
		})
	})
}

// TestNoPanicsFromExternalInput verifies that frame handling cannot panic.
// The only accepted panic is the last resort home directory lookup.
func TestNoPanicsFromExternalInput(t *testing.T) {
	acceptablePanics := map[string]bool{
		"util/home.go": true,
	}

	walkSources(t, parser.SkipObjectResolution, func(path string, fset *token.FileSet, file *ast.File) {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" && !acceptablePanics[path] {
				t.Errorf("Panic call found: %s", fset.Position(call.Pos()))
			}
			return true
		})
	})
}

// TestNonceUniqueness draws nonces for one peer and checks none repeats and
// no identifier is zero
func TestNonceUniqueness(t *testing.T) {
	store := security.NewNonceStore(security.WithIssueRate(1000, 1000))
	defer store.Close()

	seen := make(map[security.Nonce]bool)
	for i := 0; i < 500; i++ {
		n, err := store.IssueLocalNonce(3)
		if err != nil {
			t.Fatalf("IssueLocalNonce() returned error: %v", err)
		}
		if n.ID() == 0 {
			t.Fatalf("nonce %x has a zero identifier", n)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %x after %d draws", n, i)
		}
		seen[n] = true
	}
}

// TestOversizedPlaintextRejected verifies that a payload too large for one
// serial frame is refused before any encryption
func TestOversizedPlaintextRejected(t *testing.T) {
	m, err := crypto.DeriveKeyMaterial(crypto.NetworkKey{0x01})
	if err != nil {
		t.Fatalf("DeriveKeyMaterial() returned error: %v", err)
	}

	_, err = security.Seal(m, security.Header{Source: 1, Destination: 2}, [8]byte{}, security.Nonce{0x01},
		make([]byte, security.MaxPlaintextLen+1))
	if !errors.Is(err, security.ErrPlaintextTooLong) {
		t.Errorf("Seal() error = %v, want ErrPlaintextTooLong", err)
	}

	_, err = security.Seal(m, security.Header{Source: 1, Destination: 2}, [8]byte{}, security.Nonce{0x01},
		make([]byte, security.MaxPlaintextLen))
	if err != nil {
		t.Errorf("Seal() at the size limit returned error: %v", err)
	}
}
