// Package commands holds the browser-automation command vocabulary.
//
// Command names are opaque to the rest of the system: Sightline never
// interprets what "click" or "scroll" means, it only checks that a submitted
// command name is part of the vocabulary before handing the full line to an
// executor. The built-in vocabulary can be replaced at runtime from an
// external YAML file (see LoadSpecs and Watcher).
package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Spec describes a single command in the vocabulary.
type Spec struct {
	// Name is the canonical command name.
	Name string `yaml:"name"`
	// Syntax shows how to invoke the command, e.g. "go <url>".
	Syntax string `yaml:"syntax"`
	// Description is a one-line human-readable summary.
	Description string `yaml:"description"`
	// Category groups related commands (Navigation, Interaction, ...).
	Category string `yaml:"category"`
	// Aliases are alternative names resolving to this command.
	Aliases []string `yaml:"aliases"`
}

// Invocation is one parsed command line.
type Invocation struct {
	// Spec is the matched vocabulary entry.
	Spec Spec
	// Name is the canonical command name (aliases resolved).
	Name string
	// Args are the remaining shell-style tokens of the line.
	Args []string
	// Raw is the original line.
	Raw string
}

// builtinSpecs is the default vocabulary.
func builtinSpecs() []Spec {
	return []Spec{
		// Navigation
		{Name: "go", Syntax: "go <url>", Description: "Navigate to URL", Category: "Navigation"},
		{Name: "refresh", Syntax: "refresh", Description: "Reload current page", Category: "Navigation", Aliases: []string{"reload"}},
		{Name: "back", Syntax: "back", Description: "Navigate backward in history", Category: "Navigation"},
		{Name: "forward", Syntax: "forward", Description: "Navigate forward in history", Category: "Navigation"},
		{Name: "home", Syntax: "home", Description: "Go to the search homepage", Category: "Navigation"},
		{Name: "url", Syntax: "url", Description: "Display current URL", Category: "Navigation"},
		{Name: "title", Syntax: "title", Description: "Display page title", Category: "Navigation"},

		// Interaction
		{Name: "click", Syntax: "click <element>", Description: "Click an element", Category: "Interaction"},
		{Name: "type", Syntax: "type <element> <text>", Description: "Type text into an element", Category: "Interaction"},
		{Name: "press", Syntax: "press <key>", Description: "Press a keyboard key", Category: "Interaction"},
		{Name: "scroll", Syntax: "scroll <up|down>", Description: "Scroll the page", Category: "Interaction"},
		{Name: "hover", Syntax: "hover <element>", Description: "Hover over an element", Category: "Interaction"},
		{Name: "select", Syntax: "select <element> <option>", Description: "Choose a dropdown option", Category: "Interaction"},

		// Scanning
		{Name: "scan", Syntax: "scan", Description: "List interactive elements on the page", Category: "Scanning"},
		{Name: "links", Syntax: "links", Description: "List links on the page", Category: "Scanning"},
		{Name: "text", Syntax: "text", Description: "Extract visible page text", Category: "Scanning"},
		{Name: "find", Syntax: "find <query>", Description: "Find elements matching a query", Category: "Scanning"},

		// Utility
		{Name: "wait", Syntax: "wait <seconds>", Description: "Pause before the next command", Category: "Utility"},
		{Name: "screenshot", Syntax: "screenshot", Description: "Capture the current viewport", Category: "Utility", Aliases: []string{"shot"}},
	}
}

// Registry is a lookup table over the command vocabulary.
// It is safe for concurrent use; Replace swaps the vocabulary atomically.
type Registry struct {
	mu     sync.RWMutex
	specs  []Spec
	byName map[string]Spec
}

// NewRegistry returns a registry populated with the built-in vocabulary.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Replace(builtinSpecs())
	return r
}

// Replace swaps the vocabulary for the given specs.
// Aliases are indexed alongside canonical names; duplicate names keep the
// first spec seen.
func (r *Registry) Replace(specs []Spec) {
	byName := make(map[string]Spec, len(specs)*2)
	for _, spec := range specs {
		name := strings.ToLower(spec.Name)
		if _, exists := byName[name]; !exists {
			byName[name] = spec
		}
		for _, alias := range spec.Aliases {
			alias = strings.ToLower(alias)
			if _, exists := byName[alias]; !exists {
				byName[alias] = spec
			}
		}
	}

	r.mu.Lock()
	r.specs = append([]Spec(nil), specs...)
	r.byName = byName
	r.mu.Unlock()
}

// Lookup resolves a command name or alias to its spec.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return spec, ok
}

// Specs returns a copy of the current vocabulary in definition order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Spec(nil), r.specs...)
}

// Len returns the number of canonical commands in the vocabulary.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Categories returns the sorted set of categories in the vocabulary.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var cats []string
	for _, spec := range r.specs {
		if _, ok := seen[spec.Category]; !ok {
			seen[spec.Category] = struct{}{}
			cats = append(cats, spec.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// ParseLine splits a command line into a validated invocation.
// The line is tokenized shell-style, so quoted arguments survive:
//
//	type searchbox "hello world"
func (r *Registry) ParseLine(line string) (Invocation, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Invocation{}, fmt.Errorf("empty command line")
	}

	tokens, err := shlex.Split(line)
	if err != nil {
		return Invocation{}, fmt.Errorf("parse command line %q: %w", line, err)
	}
	if len(tokens) == 0 {
		return Invocation{}, fmt.Errorf("empty command line")
	}

	spec, ok := r.Lookup(tokens[0])
	if !ok {
		return Invocation{}, fmt.Errorf("unknown command %q", tokens[0])
	}

	return Invocation{
		Spec: spec,
		Name: spec.Name,
		Args: tokens[1:],
		Raw:  line,
	}, nil
}

// specsFile is the YAML shape of an external vocabulary file.
type specsFile struct {
	Commands []Spec `yaml:"commands"`
}

// LoadSpecs reads a command vocabulary from a YAML file.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commands file %s: %w", path, err)
	}

	var file specsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse commands file %s: %w", path, err)
	}
	if len(file.Commands) == 0 {
		return nil, fmt.Errorf("commands file %s defines no commands", path)
	}
	for i, spec := range file.Commands {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("commands file %s: entry %d has no name", path, i)
		}
	}

	return file.Commands, nil
}
