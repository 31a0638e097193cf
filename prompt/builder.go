// Package prompt builds deterministic image-generation prompts from song
// lyrics.
//
// builder.go implements the Builder organism. Determinism is load-bearing:
// the cache is keyed by a hash of the prompt, so the same lyrics, template,
// and options must always produce byte-identical output.
package prompt

import (
	"fmt"
	"strings"
)

// ExcerptCharBudget bounds the lyrics excerpt embedded in a prompt. Provider
// pricing scales with prompt length, and a verse or two is enough to set the
// mood of a background image.
const ExcerptCharBudget = 300

// maxFallbackLines is the number of leading lines used when the lyrics have
// no blank-line paragraph structure at all.
const maxFallbackLines = 8

// lyricsPlaceholder is the substitution marker every template must contain.
const lyricsPlaceholder = "{{lyrics}}"

// chorusMarkers are the section labels that identify a chorus or refrain
// paragraph in scraped lyrics (e.g. "[Chorus]", "Refrain:").
var chorusMarkers = []string{"chorus", "refrain"}

// BuildOptions carries the optional inputs to Build. The zero value selects
// the builder's default template with no style or resolution hints.
type BuildOptions struct {
	// Template names the prompt template; unknown names fall back to the
	// builder's default.
	Template string

	// SongTitle and Artist are included as context when set.
	SongTitle string
	Artist    string

	// Style is appended as a trailing style hint when set.
	Style string

	// Width and Height, when both positive, append a target-resolution hint.
	Width  int
	Height int
}

// Builder turns lyrics into provider-agnostic prompt strings.
//
// A Builder is immutable after construction and safe for concurrent use.
// Build is a pure function of its inputs.
type Builder struct {
	templates   map[string]string
	defaultName string
}

// NewBuilder creates a Builder with the built-in templates. defaultName
// selects the fallback template; if it names no built-in, "worship" is used.
func NewBuilder(defaultName string) *Builder {
	templates := builtinTemplates()
	if _, ok := templates[defaultName]; !ok {
		defaultName = "worship"
	}
	return &Builder{
		templates:   templates,
		defaultName: defaultName,
	}
}

// NewBuilderWithTemplates creates a Builder with extra templates merged over
// the built-ins. Extra templates missing the {{lyrics}} placeholder are
// rejected.
func NewBuilderWithTemplates(defaultName string, extra map[string]string) (*Builder, error) {
	templates := builtinTemplates()
	for name, text := range extra {
		if !strings.Contains(text, lyricsPlaceholder) {
			return nil, fmt.Errorf("prompt: template %q is missing the %s placeholder", name, lyricsPlaceholder)
		}
		templates[name] = text
	}
	if _, ok := templates[defaultName]; !ok {
		defaultName = "worship"
	}
	return &Builder{
		templates:   templates,
		defaultName: defaultName,
	}, nil
}

// TemplateNames returns the names of all registered templates in no
// particular order.
func (b *Builder) TemplateNames() []string {
	names := make([]string, 0, len(b.templates))
	for name := range b.templates {
		names = append(names, name)
	}
	return names
}

// Build produces the prompt for the given lyrics and options.
//
// The selected template's {{lyrics}} placeholder is replaced with an excerpt
// chosen by excerpt selection policy; song identity, style, and resolution
// hints are appended as trailing lines when present.
func (b *Builder) Build(lyrics string, opts BuildOptions) string {
	tmpl, ok := b.templates[opts.Template]
	if !ok {
		tmpl = b.templates[b.defaultName]
	}

	excerpt := SelectExcerpt(lyrics)
	result := strings.ReplaceAll(tmpl, lyricsPlaceholder, excerpt)

	var trailer strings.Builder
	if opts.SongTitle != "" {
		if opts.Artist != "" {
			fmt.Fprintf(&trailer, "\nThe song is %q by %s.", opts.SongTitle, opts.Artist)
		} else {
			fmt.Fprintf(&trailer, "\nThe song is %q.", opts.SongTitle)
		}
	}
	if opts.Style != "" {
		fmt.Fprintf(&trailer, "\nStyle: %s.", opts.Style)
	}
	if opts.Width > 0 && opts.Height > 0 {
		fmt.Fprintf(&trailer, "\nTarget resolution: %dx%d.", opts.Width, opts.Height)
	}

	return result + trailer.String()
}

// SelectExcerpt picks the lyrics fragment embedded into the prompt.
//
// Policy: prefer a paragraph containing a chorus/refrain marker; otherwise
// the first two paragraphs (paragraphs split on blank lines); otherwise the
// first few lines. The result is truncated to ExcerptCharBudget on a word
// boundary.
func SelectExcerpt(lyrics string) string {
	normalized := strings.ReplaceAll(lyrics, "\r\n", "\n")
	paragraphs := splitParagraphs(normalized)

	var excerpt string
	switch {
	case len(paragraphs) == 0:
		excerpt = ""
	default:
		if chorus, ok := findChorusParagraph(paragraphs); ok {
			excerpt = chorus
		} else if len(paragraphs) >= 2 {
			excerpt = paragraphs[0] + "\n\n" + paragraphs[1]
		} else {
			excerpt = firstLines(paragraphs[0], maxFallbackLines)
		}
	}

	return truncateOnWordBoundary(excerpt, ExcerptCharBudget)
}

// splitParagraphs splits text on blank lines, trimming each paragraph and
// dropping empty ones.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// findChorusParagraph returns the first paragraph containing a chorus or
// refrain marker, with the marker-only lines stripped out.
func findChorusParagraph(paragraphs []string) (string, bool) {
	for _, para := range paragraphs {
		if !containsChorusMarker(para) {
			continue
		}

		var kept []string
		for _, line := range strings.Split(para, "\n") {
			if isMarkerLine(line) {
				continue
			}
			kept = append(kept, line)
		}
		body := strings.TrimSpace(strings.Join(kept, "\n"))
		if body != "" {
			return body, true
		}
	}
	return "", false
}

// containsChorusMarker reports whether any line in the paragraph carries a
// chorus/refrain label.
func containsChorusMarker(para string) bool {
	lower := strings.ToLower(para)
	for _, marker := range chorusMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isMarkerLine reports whether a line is only a section label such as
// "[Chorus]", "Chorus:", or "Refrain".
func isMarkerLine(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	trimmed = strings.Trim(trimmed, "[]():0123456789 x")
	for _, marker := range chorusMarkers {
		if trimmed == marker {
			return true
		}
	}
	return false
}

// firstLines returns up to n leading non-empty lines of text.
func firstLines(text string, n int) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, "\n")
}

// truncateOnWordBoundary shortens text to at most budget characters without
// splitting a word, appending an ellipsis when truncation occurred.
func truncateOnWordBoundary(text string, budget int) string {
	if len(text) <= budget {
		return text
	}

	cut := text[:budget]
	if idx := strings.LastIndexAny(cut, " \n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
