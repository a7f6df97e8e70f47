package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extensions are tried in this order when resolving a workflow by name.
var Extensions = []string{".yaml", ".yml", ".json"}

// Definition is a named, ordered list of steps. Key is the file stem the
// definition was loaded from and is what Load resolves; Name is only a label.
type Definition struct {
	Key         string   `yaml:"-" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Triggers    []string `yaml:"triggers" json:"triggers,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps"`
}

// Step is immutable once loaded.
type Step struct {
	ID     string     `yaml:"id" json:"id"`
	Name   string     `yaml:"name" json:"name,omitempty"`
	Action ActionKind `yaml:"action" json:"action"`
	Params Params     `yaml:"params" json:"params,omitempty"`
}

func (d *Definition) normalize(key string) {
	d.Key = key
	if d.Name == "" {
		d.Name = key
	}
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			s.ID = s.Name
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if s.Params == nil {
			s.Params = Params{}
		}
	}
}

// Loader resolves workflow definitions from a directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load resolves <name>.yaml, <name>.yml and <name>.json in that order. A file
// that fails to parse is skipped in favour of the next extension.
func (l *Loader) Load(name string) (*Definition, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("workflow %q: %w", name, ErrWorkflowNotFound)
	}

	for _, ext := range Extensions {
		path := filepath.Join(l.dir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Error("read workflow failed", "path", path, "error", err)
			}
			continue
		}

		def, err := parseDefinition(data, ext)
		if err != nil {
			slog.Error("parse workflow failed", "path", path, "error", err)
			continue
		}
		def.normalize(name)
		return def, nil
	}

	return nil, fmt.Errorf("workflow %q: %w", name, ErrWorkflowNotFound)
}

// List loads every resolvable definition in the directory, sorted by name.
func (l *Loader) List() ([]*Definition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isWorkflowExt(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var defs []*Definition
	for _, name := range names {
		def, err := l.Load(name)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func isWorkflowExt(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func parseDefinition(data []byte, ext string) (*Definition, error) {
	var def Definition
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	}
	if len(def.Steps) == 0 && def.Name == "" {
		return nil, fmt.Errorf("empty workflow definition")
	}
	return &def, nil
}
