// Package catalog holds the curriculum tables: default treatment plans per
// autism level, image styles and synthesis defaults.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/ashureev/viso-labs/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Style is an image style and the instruction used when composing prompts.
type Style struct {
	Name        string `yaml:"name" json:"name"`
	Instruction string `yaml:"instruction" json:"-"`
}

// Synthesis holds image generation defaults.
type Synthesis struct {
	GuidanceScale  float64 `yaml:"guidance_scale"`
	InferenceSteps int     `yaml:"inference_steps"`
	NegativePrompt string  `yaml:"negative_prompt"`
}

// Catalog is the loaded curriculum.
type Catalog struct {
	Version            int               `yaml:"version"`
	DefaultAutismLevel string            `yaml:"default_autism_level"`
	TreatmentPlans     map[string]string `yaml:"treatment_plans"`
	ImageStyles        []Style           `yaml:"image_styles"`
	Synthesis          Synthesis         `yaml:"synthesis"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic("catalog: embedded default is invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog file. A missing path yields the embedded default;
// fields absent from the file keep their default values.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the tables needed for prompt composition are present.
func (c *Catalog) Validate() error {
	if len(c.TreatmentPlans) == 0 {
		return fmt.Errorf("treatment_plans cannot be empty")
	}
	if _, ok := c.TreatmentPlans[c.DefaultAutismLevel]; !ok {
		return fmt.Errorf("default_autism_level %q has no treatment plan", c.DefaultAutismLevel)
	}
	if len(c.ImageStyles) == 0 {
		return fmt.Errorf("image_styles cannot be empty")
	}
	return nil
}

// TreatmentPlan returns plan when it is non-blank, otherwise the default plan
// for level, falling back to the default level's plan.
func (c *Catalog) TreatmentPlan(level, plan string) string {
	if strings.TrimSpace(plan) != "" {
		return plan
	}
	if p, ok := c.TreatmentPlans[level]; ok {
		return p
	}
	return c.TreatmentPlans[c.DefaultAutismLevel]
}

// StyleInstruction returns the instruction for a style, or "" when unknown.
func (c *Catalog) StyleInstruction(name string) string {
	for _, s := range c.ImageStyles {
		if strings.EqualFold(s.Name, name) {
			return s.Instruction
		}
	}
	return ""
}

// StyleNames lists the configured styles.
func (c *Catalog) StyleNames() []string {
	names := make([]string, len(c.ImageStyles))
	for i, s := range c.ImageStyles {
		names[i] = s.Name
	}
	return names
}

// AutismLevels lists levels that have a default treatment plan, sorted.
func (c *Catalog) AutismLevels() []string {
	levels := make([]string, 0, len(c.TreatmentPlans))
	for level := range c.TreatmentPlans {
		levels = append(levels, level)
	}
	slices.Sort(levels)
	return levels
}

// DifficultyNames lists the practice levels in order.
func (c *Catalog) DifficultyNames() []string {
	levels := domain.Difficulties()
	names := make([]string, len(levels))
	for i, d := range levels {
		names[i] = d.String()
	}
	return names
}
