// Package topology loads the static, read-only room table.
package topology

import (
	"fmt"
	"os"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/validate"
	"sort"

	"gopkg.in/yaml.v3"
)

// Topology maps room id to its fixed configuration.
type Topology struct {
	rooms map[string]models.RoomSpec
	order []string
}

type file struct {
	Rooms []models.RoomSpec `yaml:"rooms"`
}

// Load reads the room table from a YAML file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	return New(f.Rooms)
}

// New validates specs and builds a Topology ordered by floor, then id.
func New(specs []models.RoomSpec) (*Topology, error) {
	t := &Topology{rooms: make(map[string]models.RoomSpec, len(specs))}
	for _, spec := range specs {
		if err := validate.RoomID(spec.ID); err != nil {
			return nil, err
		}
		if _, dup := t.rooms[spec.ID]; dup {
			return nil, fmt.Errorf("room %s listed twice", spec.ID)
		}
		if spec.Gender != models.GenderMale && spec.Gender != models.GenderFemale {
			return nil, fmt.Errorf("room %s: gender must be M or F, got %q", spec.ID, spec.Gender)
		}
		if spec.Capacity < 1 || spec.Capacity > 2 {
			return nil, fmt.Errorf("room %s: capacity must be 1 or 2, got %d", spec.ID, spec.Capacity)
		}
		t.rooms[spec.ID] = spec
		t.order = append(t.order, spec.ID)
	}
	sort.Slice(t.order, func(i, j int) bool {
		a, b := t.rooms[t.order[i]], t.rooms[t.order[j]]
		if a.Floor != b.Floor {
			return a.Floor < b.Floor
		}
		return a.ID < b.ID
	})
	return t, nil
}

func (t *Topology) Room(id string) (models.RoomSpec, bool) {
	spec, ok := t.rooms[id]
	return spec, ok
}

// Rooms returns every room spec in display order.
func (t *Topology) Rooms() []models.RoomSpec {
	out := make([]models.RoomSpec, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rooms[id])
	}
	return out
}

func (t *Topology) Len() int { return len(t.order) }
