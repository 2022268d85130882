package workflow

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/miniclaw/miniclaw/types"
)

var recipeExtensions = []string{".yaml", ".yml", ".json"}

// Library resolves recipe names against a directory of recipe files.
// A recipe named "daily-brief" lives at <dir>/daily-brief.yaml (or .yml,
// .json). Files re-parse on every load so edits apply without restart.
type Library struct {
	dir string
}

// NewLibrary creates a library over dir.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Load parses the recipe file for name.
func (l *Library) Load(name string) (*Recipe, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, types.Errorf(types.ErrRecipeInvalid, "invalid recipe name %q", name)
	}
	for _, ext := range recipeExtensions {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadRecipeFile(path)
		}
	}
	return nil, types.Errorf(types.ErrRecipeInvalid, "recipe %q not found", name)
}

// List returns the names of all recipes in the directory, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewError(types.ErrInternalError, "read recipe directory").WithCause(err)
	}

	seen := make(map[string]struct{})
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		supported := false
		for _, e := range recipeExtensions {
			if ext == e {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
