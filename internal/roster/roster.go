package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Teammate struct {
	Name    string   `yaml:"name"`
	ID      string   `yaml:"id"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type file struct {
	Teammates []Teammate `yaml:"teammates"`
}

// Roster maps human names from chat ("escalate to joel") to CRM teammate ids.
type Roster struct {
	byName map[string]string
}

func Load(path string) (*Roster, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("roster path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Roster, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	byName := make(map[string]string)
	for _, mate := range f.Teammates {
		id := strings.TrimSpace(mate.ID)
		name := normalizeName(mate.Name)
		if id == "" || name == "" {
			return nil, fmt.Errorf("roster teammate requires name and id")
		}
		byName[name] = id
		for _, alias := range mate.Aliases {
			if alias = normalizeName(alias); alias != "" {
				byName[alias] = id
			}
		}
	}
	return &Roster{byName: byName}, nil
}

// Resolve returns the teammate id for a chat name, matching case-insensitively
// on names and aliases.
func (r *Roster) Resolve(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	id, ok := r.byName[normalizeName(name)]
	return id, ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
