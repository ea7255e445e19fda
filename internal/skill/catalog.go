// Package skill loads skill definitions from YAML files and resolves named
// pipelines into runnable skills.
package skill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/caevv/skillq/internal/run"
)

var (
	ErrUnknownSkill = errors.New("unknown skill")
	ErrCycle        = errors.New("skill pipeline cycle")
)

// Definition is a skill as written on disk. Pipeline lists other skills by
// name.
type Definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Prompt      string   `yaml:"prompt"`
	NoWorktree  bool     `yaml:"no_worktree,omitempty"`
	Pipeline    []string `yaml:"pipeline,omitempty"`
	Path        string   `yaml:"-"`
}

// Catalog is a set of skill definitions keyed by name.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog creates a catalog from definitions. Later definitions override
// earlier ones with the same name.
func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.Name] = d
	}
	return c
}

// LoadDirs reads every *.yaml and *.yml file in dirs. Missing directories
// are skipped. Skills in later directories override earlier ones.
func LoadDirs(dirs ...string) (*Catalog, error) {
	c := NewCatalog()
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read skill directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			ext := filepath.Ext(entry.Name())
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			def, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			c.defs[def.Name] = def
		}
	}
	return c, nil
}

// LoadFile reads one skill definition. The name defaults to the file name
// without its extension.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read skill %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("failed to parse skill %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if def.Prompt == "" && len(def.Pipeline) == 0 {
		return Definition{}, fmt.Errorf("skill %s: prompt or pipeline is required", def.Name)
	}
	def.Path = path
	return def, nil
}

// Names returns every skill name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the definition called name.
func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Resolve expands name into a run.Skill with its pipeline resolved
// recursively. Nested pipelines are flattened into one step list.
func (c *Catalog) Resolve(name string) (run.Skill, error) {
	def, ok := c.defs[name]
	if !ok {
		return run.Skill{}, fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}

	s := run.Skill{Name: def.Name, Prompt: def.Prompt, NoWorktree: def.NoWorktree}
	if len(def.Pipeline) == 0 {
		return s, nil
	}

	steps, err := c.flatten(def, map[string]bool{})
	if err != nil {
		return run.Skill{}, err
	}
	s.Pipeline = steps
	return s, nil
}

func (c *Catalog) flatten(def Definition, visiting map[string]bool) ([]run.Skill, error) {
	if visiting[def.Name] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, def.Name)
	}
	visiting[def.Name] = true
	defer delete(visiting, def.Name)

	var steps []run.Skill
	for _, ref := range def.Pipeline {
		sub, ok := c.defs[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s (referenced by %s)", ErrUnknownSkill, ref, def.Name)
		}
		if len(sub.Pipeline) == 0 {
			steps = append(steps, run.Skill{Name: sub.Name, Prompt: sub.Prompt, NoWorktree: sub.NoWorktree})
			continue
		}
		nested, err := c.flatten(sub, visiting)
		if err != nil {
			return nil, err
		}
		steps = append(steps, nested...)
	}
	return steps, nil
}

// Validate resolves every skill and returns the first error found.
func (c *Catalog) Validate() error {
	for _, name := range c.Names() {
		if _, err := c.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}
