package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adambossy/tally/internal/model"
)

// SeedFile is the YAML document shape accepted by the seed loader.
type SeedFile struct {
	Categories []SeedCategory `yaml:"categories"`
}

// SeedCategory is one root category with optional children. Child keys may
// be written as bare suffixes ("groceries") or full dotted keys
// ("food.groceries"); bare suffixes are normalized under their root.
type SeedCategory struct {
	Key         string         `yaml:"key"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Children    []SeedCategory `yaml:"children,omitempty"`
}

// ParseSeed builds a validated snapshot from YAML seed data.
func ParseSeed(data []byte) (*Taxonomy, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy seed: %w", err)
	}

	cats := make([]model.Category, 0, len(file.Categories))
	for _, root := range file.Categories {
		cats = append(cats, model.Category{
			Key:         root.Key,
			Name:        root.Name,
			Description: root.Description,
		})
		for _, child := range root.Children {
			if len(child.Children) > 0 {
				return nil, fmt.Errorf("%w: %q nests deeper than one level", ErrInvalidKey, child.Key)
			}
			key := child.Key
			if !model.IsChildKey(key) {
				key = model.ChildKey(root.Key, key)
			}
			cats = append(cats, model.Category{
				Key:         key,
				Name:        child.Name,
				Description: child.Description,
				ParentKey:   root.Key,
			})
		}
	}

	return New(cats)
}

// LoadSeedFile reads and parses a YAML seed file from disk.
func LoadSeedFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy seed %s: %w", path, err)
	}
	return ParseSeed(data)
}
