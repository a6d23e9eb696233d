// Package testutil holds assertions that keep package boundaries intact:
// domain types stay free of infrastructure, and plugins reach storage and
// transport only through the core service.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const modulePath = "limscore"

// Imports returns the sorted, de-duplicated import paths of the non-test Go
// files in dir, mapped to the first file importing each.
func Imports(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	imports := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if _, seen := imports[path]; !seen {
				imports[path] = name
			}
		}
	}
	return imports, nil
}

// AssertNoImports fails t when a non-test file in dir imports a path matched
// by forbidden.
func AssertNoImports(t testing.TB, dir string, forbidden func(path string) bool, reason string) {
	t.Helper()
	imports, err := Imports(dir)
	if err != nil {
		t.Fatalf("scan imports of %s: %v", dir, err)
	}
	if viols := violations(imports, forbidden); len(viols) > 0 {
		t.Fatalf("forbidden imports in %s (%s):\n%s", dir, reason, strings.Join(viols, "\n"))
	}
}

func violations(imports map[string]string, forbidden func(path string) bool) []string {
	var out []string
	for path, file := range imports {
		if forbidden(path) {
			out = append(out, path+" (in "+file+")")
		}
	}
	sort.Strings(out)
	return out
}

// ModuleInternal matches every package under limscore/internal.
func ModuleInternal(path string) bool {
	return strings.HasPrefix(path, modulePath+"/internal/")
}

// StorageBackend matches the concrete persistence and blob drivers.
func StorageBackend(path string) bool {
	return strings.HasPrefix(path, modulePath+"/internal/infra/") ||
		strings.HasPrefix(path, "modernc.org/sqlite") ||
		strings.HasPrefix(path, "github.com/jackc/pgx") ||
		strings.HasPrefix(path, "github.com/redis/go-redis")
}

// Transport matches the HTTP and messaging layers.
func Transport(path string) bool {
	return path == "net/http" ||
		strings.HasPrefix(path, "github.com/labstack/echo") ||
		strings.HasPrefix(path, "github.com/ThreeDotsLabs/watermill") ||
		strings.HasPrefix(path, modulePath+"/internal/jsonapi") ||
		strings.HasPrefix(path, modulePath+"/internal/events")
}

// Any combines predicates.
func Any(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}
