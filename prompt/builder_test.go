package prompt

import (
	"strings"
	"testing"
)

const verseChorusLyrics = `Amazing grace how sweet the sound
That saved a wretch like me

[Chorus]
My chains are gone, I've been set free
My God, my Savior has ransomed me

I once was lost but now am found
Was blind but now I see`

// TestBuild_Deterministic tests that identical inputs yield byte-identical
// output across repeated calls and across builder instances.
func TestBuild_Deterministic(t *testing.T) {
	opts := BuildOptions{
		Template:  "worship",
		SongTitle: "Amazing Grace",
		Artist:    "Traditional",
		Style:     "oil painting",
		Width:     1920,
		Height:    1080,
	}

	a := NewBuilder("worship").Build(verseChorusLyrics, opts)
	b := NewBuilder("worship").Build(verseChorusLyrics, opts)

	if a != b {
		t.Error("expected byte-identical prompts for identical inputs")
	}
	if a == "" {
		t.Error("expected non-empty prompt")
	}
}

// TestBuild_PrefersChorus tests that the chorus paragraph wins over leading
// verses.
func TestBuild_PrefersChorus(t *testing.T) {
	got := NewBuilder("worship").Build(verseChorusLyrics, BuildOptions{})

	if !strings.Contains(got, "My chains are gone") {
		t.Errorf("expected chorus lines in prompt, got:\n%s", got)
	}
	if strings.Contains(strings.ToLower(got), "[chorus]") {
		t.Errorf("expected chorus marker stripped, got:\n%s", got)
	}
	if strings.Contains(got, "saved a wretch") {
		t.Errorf("expected verse excluded when a chorus exists, got:\n%s", got)
	}
}

// TestSelectExcerpt_FirstTwoParagraphs tests the fallback without a chorus.
func TestSelectExcerpt_FirstTwoParagraphs(t *testing.T) {
	lyrics := "first verse line one\nfirst verse line two\n\nsecond verse\n\nthird verse"

	got := SelectExcerpt(lyrics)

	if !strings.Contains(got, "first verse line one") || !strings.Contains(got, "second verse") {
		t.Errorf("expected first two paragraphs, got %q", got)
	}
	if strings.Contains(got, "third verse") {
		t.Errorf("expected third paragraph excluded, got %q", got)
	}
}

// TestSelectExcerpt_SingleBlock tests the first-N-lines fallback when the
// lyrics have no paragraph breaks.
func TestSelectExcerpt_SingleBlock(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "la la la")
	}
	lyrics := strings.Join(lines, "\n")

	got := SelectExcerpt(lyrics)

	if n := len(strings.Split(got, "\n")); n > maxFallbackLines {
		t.Errorf("expected at most %d lines, got %d", maxFallbackLines, n)
	}
}

// TestSelectExcerpt_TruncatesOnWordBoundary tests the character budget.
func TestSelectExcerpt_TruncatesOnWordBoundary(t *testing.T) {
	long := strings.Repeat("hallelujah ", 100)

	got := SelectExcerpt(long)

	if len(got) > ExcerptCharBudget+4 {
		t.Errorf("excerpt too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis on truncation, got suffix %q", got[len(got)-10:])
	}
	if strings.Contains(got, "hallelu...") {
		t.Error("truncation split a word")
	}
}

// TestSelectExcerpt_Empty tests empty lyrics.
func TestSelectExcerpt_Empty(t *testing.T) {
	if got := SelectExcerpt(""); got != "" {
		t.Errorf("expected empty excerpt, got %q", got)
	}
}

// TestBuild_UnknownTemplateFallsBack tests the default-template fallback.
func TestBuild_UnknownTemplateFallsBack(t *testing.T) {
	b := NewBuilder("nature")

	unknown := b.Build(verseChorusLyrics, BuildOptions{Template: "no-such-template"})
	def := b.Build(verseChorusLyrics, BuildOptions{Template: "nature"})

	if unknown != def {
		t.Error("expected unknown template to fall back to the default")
	}
}

// TestBuild_TrailingHints tests style and resolution hints.
func TestBuild_TrailingHints(t *testing.T) {
	got := NewBuilder("worship").Build(verseChorusLyrics, BuildOptions{
		SongTitle: "Amazing Grace",
		Style:     "watercolor",
		Width:     1024,
		Height:    768,
	})

	for _, want := range []string{`"Amazing Grace"`, "Style: watercolor.", "Target resolution: 1024x768."} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in prompt, got:\n%s", want, got)
		}
	}
}

// TestBuild_NoHintsWhenAbsent tests that zero options append nothing.
func TestBuild_NoHintsWhenAbsent(t *testing.T) {
	got := NewBuilder("worship").Build(verseChorusLyrics, BuildOptions{})

	if strings.Contains(got, "Style:") || strings.Contains(got, "Target resolution:") {
		t.Errorf("unexpected hint lines in prompt:\n%s", got)
	}
}

// TestNewBuilderWithTemplates_MissingPlaceholder tests placeholder validation.
func TestNewBuilderWithTemplates_MissingPlaceholder(t *testing.T) {
	_, err := NewBuilderWithTemplates("worship", map[string]string{
		"broken": "a nice background with no substitution marker",
	})

	if err == nil {
		t.Error("expected error for template without {{lyrics}} placeholder")
	}
}

// TestHash_DistinctPrompts tests that different prompts hash differently and
// the same prompt hashes stably.
func TestHash_DistinctPrompts(t *testing.T) {
	a := Hash("a sunrise over mountains")
	b := Hash("a sunset over mountains")

	if a == b {
		t.Error("expected distinct hashes for distinct prompts")
	}
	if a != Hash("a sunrise over mountains") {
		t.Error("expected stable hash for identical prompt")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if len(ShortHash("a sunrise over mountains")) != 8 {
		t.Error("expected 8-char short hash")
	}
}
