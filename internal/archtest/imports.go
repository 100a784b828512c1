// Package archtest checks package import boundaries from tests.
package archtest

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Module is the import path prefix of this repository.
const Module = "inventory"

// Under matches import paths at or below the given module-relative directory,
// e.g. Under("internal/infra").
func Under(dir string) func(string) bool {
	prefix := Module + "/" + strings.Trim(dir, "/")
	return func(path string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

// AssertNoImports parses the non-test Go files in dir and fails t when an
// import matches any of the forbidden predicates.
func AssertNoImports(t testing.TB, dir, reason string, forbidden ...func(string) bool) {
	t.Helper()
	viols, err := Violations(dir, forbidden...)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// Violations lists "import (in file)" entries in dir matching forbidden.
func Violations(dir string, forbidden ...func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			for _, match := range forbidden {
				if match(path) {
					out = append(out, path+" (in "+name+")")
					break
				}
			}
		}
	}
	return out, nil
}
