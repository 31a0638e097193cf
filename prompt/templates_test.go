package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestBuiltinTemplates tests that every built-in carries the placeholder.
func TestBuiltinTemplates(t *testing.T) {
	for name, text := range builtinTemplates() {
		if !strings.Contains(text, lyricsPlaceholder) {
			t.Errorf("built-in template %q is missing %s", name, lyricsPlaceholder)
		}
	}
}

// TestLoadTemplatesFile tests parsing a valid YAML template file.
func TestLoadTemplatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - name: sunrise
    text: "A sunrise scene inspired by:\n{{lyrics}}"
  - name: stained-glass
    text: "Stained glass style. {{lyrics}}"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	templates, err := LoadTemplatesFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(templates))
	}
	if _, ok := templates["sunrise"]; !ok {
		t.Error("expected sunrise template")
	}
}

// TestLoadTemplatesFile_Unnamed tests rejection of unnamed templates.
func TestLoadTemplatesFile_Unnamed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "templates:\n  - text: \"{{lyrics}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := LoadTemplatesFile(path); err == nil {
		t.Error("expected error for unnamed template")
	}
}

// TestNewBuilderFromConfig tests merging file templates over built-ins.
func TestNewBuilderFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - name: sunrise
    text: "A sunrise scene. {{lyrics}}"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	b, err := NewBuilderFromConfig("worship", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := b.Build("some lyrics here", BuildOptions{Template: "sunrise"})
	if !strings.Contains(got, "A sunrise scene.") {
		t.Errorf("expected file template to be used, got:\n%s", got)
	}
}

// TestNewBuilderFromConfig_EmptyPath tests that no file means built-ins only.
func TestNewBuilderFromConfig_EmptyPath(t *testing.T) {
	b, err := NewBuilderFromConfig("worship", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.TemplateNames()) != len(builtinTemplates()) {
		t.Error("expected built-in templates only")
	}
}
