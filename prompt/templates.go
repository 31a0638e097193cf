package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// builtinTemplates returns the default template set. Every template carries
// the {{lyrics}} placeholder and asks for an image with no readable text,
// since the slide renderer overlays the lyrics itself.
func builtinTemplates() map[string]string {
	return map[string]string{
		"worship": "A reverent, atmospheric background image for a worship song lyric slide. " +
			"Soft natural light, wide open space, no people, no text, no lettering. " +
			"Inspired by these lyrics:\n{{lyrics}}",

		"abstract": "An abstract background image with gentle gradients and soft organic shapes, " +
			"suitable behind projected song lyrics. No text, no recognizable objects. " +
			"Mood drawn from these lyrics:\n{{lyrics}}",

		"nature": "A serene landscape photograph-style background for a lyric slide: " +
			"sky, water, mountains, or fields matching the mood of these lyrics. " +
			"No people, no text:\n{{lyrics}}",

		"minimal": "A minimal, softly textured single-color background with subtle depth, " +
			"understated enough to sit behind projected lyrics. " +
			"Tone set by these lyrics:\n{{lyrics}}",
	}
}

// TemplatesFile is the YAML shape of a user template file:
//
//	templates:
//	  - name: sunrise
//	    text: |
//	      A sunrise scene... {{lyrics}}
type TemplatesFile struct {
	Templates []TemplateEntry `yaml:"templates"`
}

// TemplateEntry is one named template in a TemplatesFile.
type TemplateEntry struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// LoadTemplatesFile reads named templates from a YAML file. Entries with an
// empty name or missing {{lyrics}} placeholder are rejected.
func LoadTemplatesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: failed to read templates file: %w", err)
	}

	var file TemplatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("prompt: failed to parse templates file: %w", err)
	}

	templates := make(map[string]string, len(file.Templates))
	for _, entry := range file.Templates {
		if entry.Name == "" {
			return nil, fmt.Errorf("prompt: templates file %s contains an unnamed template", path)
		}
		templates[entry.Name] = entry.Text
	}
	return templates, nil
}

// NewBuilderFromConfig creates a Builder with the built-in templates plus
// any templates from the given YAML file. An empty path yields the built-ins
// only.
func NewBuilderFromConfig(defaultName, templatesPath string) (*Builder, error) {
	if templatesPath == "" {
		return NewBuilder(defaultName), nil
	}

	extra, err := LoadTemplatesFile(templatesPath)
	if err != nil {
		return nil, err
	}
	return NewBuilderWithTemplates(defaultName, extra)
}
