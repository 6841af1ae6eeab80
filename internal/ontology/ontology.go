// Package ontology loads extraction-schema documents (spec §4.1) at startup
// and exposes an immutable registry keyed by ontology name.
package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeDef is a permitted entity or relation type name with guidance for the
// extraction prompt.
type TypeDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Examples    []string `yaml:"examples,omitempty"`
}

// Ontology is the immutable snapshot returned by Registry.Get.
type Ontology struct {
	Name             string    `yaml:"name"`
	EntityTypes      []TypeDef `yaml:"entity_types"`
	RelationTypes    []TypeDef `yaml:"relation_types"`
	PriorityEntities []string  `yaml:"priority_entities,omitempty"`
	PriorityRelation []string  `yaml:"priority_relations,omitempty"`
	Instructions     string    `yaml:"instructions,omitempty"`
	MaxEntities      int       `yaml:"max_entities"`
	MaxRelations     int       `yaml:"max_relations"`

	entityTypeSet   map[string]struct{}
	relationTypeSet map[string]struct{}
}

// OtherEntityType is the coercion target for ontology-unknown entity types.
const OtherEntityType = "Other"

// NormalizeEntityType coerces an extracted type string against the ontology,
// falling back to OtherEntityType when the model hallucinates a type.
func (o *Ontology) NormalizeEntityType(t string) string {
	if _, ok := o.entityTypeSet[t]; ok {
		return t
	}
	return OtherEntityType
}

// NormalizeRelationType accepts any string verbatim, per spec §3's
// invariant that unknown relation types are recorded as free strings.
func (o *Ontology) NormalizeRelationType(t string) string {
	return strings.TrimSpace(t)
}

// IsPriorityEntity reports whether the named entity type is one the
// extraction prompt and search ranking should favor.
func (o *Ontology) IsPriorityEntity(t string) bool {
	for _, p := range o.PriorityEntities {
		if p == t {
			return true
		}
	}
	return false
}

func build(o *Ontology) {
	o.entityTypeSet = make(map[string]struct{}, len(o.EntityTypes))
	for _, t := range o.EntityTypes {
		o.entityTypeSet[t.Name] = struct{}{}
	}
	o.relationTypeSet = make(map[string]struct{}, len(o.RelationTypes))
	for _, t := range o.RelationTypes {
		o.relationTypeSet[t.Name] = struct{}{}
	}
	if o.MaxEntities <= 0 {
		o.MaxEntities = 500
	}
	if o.MaxRelations <= 0 {
		o.MaxRelations = 500
	}
}

// Registry is the read-only collection of loaded ontologies (spec §5:
// "Ontology registry: initialised at startup, read-only thereafter").
type Registry struct {
	byName map[string]*Ontology
}

// Get returns the named ontology and whether it was found.
func (r *Registry) Get(name string) (*Ontology, bool) {
	o, ok := r.byName[name]
	return o, ok
}

// Names lists all loaded ontology names, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}

// LoadDir reads every *.yaml/*.yml file in dir as an Ontology document.
// A missing or malformed ontology fails startup with a descriptive error,
// per spec §4.1.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ontology: read dir %q: %w", dir, err)
	}
	reg := &Registry{byName: make(map[string]*Ontology)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ontology: read %q: %w", path, err)
		}
		var o Ontology
		if err := yaml.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("ontology: parse %q: %w", path, err)
		}
		if o.Name == "" {
			return nil, fmt.Errorf("ontology: %q missing required name field", path)
		}
		if len(o.EntityTypes) == 0 {
			return nil, fmt.Errorf("ontology: %q declares no entity_types", path)
		}
		build(&o)
		reg.byName[o.Name] = &o
	}
	if len(reg.byName) == 0 {
		return nil, fmt.Errorf("ontology: no ontology documents found in %q", dir)
	}
	return reg, nil
}
