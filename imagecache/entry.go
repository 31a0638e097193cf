// Package imagecache provides a content-addressed cache of generated images.
//
// The filesystem is the source of truth: one image file per entry, named
// deterministically from the entry's key, with the in-memory index rebuilt
// by scanning the cache directory at startup. No separate index file exists.
//
// entry.go defines the Entry value type and the deterministic file naming
// scheme. Entries are plain values keyed by strings; the index never hands
// out pointers into its own state.
package imagecache

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Entry describes one cached image. FileID is the file's base name without
// extension and is a deterministic function of either the song identity
// (title, artist, prompt hash) or the generation key (prompt hash, model,
// size, quality, style) - never both, never ambiguous.
type Entry struct {
	FileID         string
	FilePath       string
	PromptHash     string
	SongTitle      string
	Artist         string
	Provider       string
	Model          string
	Size           string
	Quality        string
	Style          string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// HasIdentity reports whether the entry is addressed by song identity rather
// than by generation key.
func (e Entry) HasIdentity() bool {
	return e.SongTitle != ""
}

// fieldSep joins the components of a file name. Sanitized components never
// contain it, so splitting on it round-trips.
const fieldSep = "_"

// thumbSuffix marks preview files written next to cached images. They are
// ignored when the index is rebuilt.
const thumbSuffix = ".thumb.png"

var unsafeChars = regexp.MustCompile(`[^a-z0-9.-]+`)
var dashRuns = regexp.MustCompile(`-{2,}`)

// sanitizeComponent makes a string safe for use as one underscore-separated
// file name field: lowercase, unsafe characters replaced by dashes, length
// capped. The separator itself can never appear in the output.
func sanitizeComponent(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	cleaned := unsafeChars.ReplaceAllString(lower, "-")
	cleaned = dashRuns.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-")
	if len(cleaned) > 60 {
		cleaned = strings.Trim(cleaned[:60], "-")
	}
	return cleaned
}

// IdentityFileID derives the deterministic file ID for a song-identity
// entry: {title}_{artist}_{hash8}. The artist slot stays in place even when
// empty so the format parses unambiguously.
func IdentityFileID(title, artist, promptHash string) string {
	hash8 := promptHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}
	return sanitizeComponent(title) + fieldSep + sanitizeComponent(artist) + fieldSep + hash8
}

// KeyFileID derives the deterministic file ID for a generation-key entry:
// {promptHash}_{model}_{size}[_{quality}_{style}]. Quality and style are
// either both present or both absent so the format parses unambiguously;
// an empty slot is written as "x".
func KeyFileID(promptHash, model, size, quality, style string) string {
	id := promptHash + fieldSep + sanitizeComponent(model) + fieldSep + sanitizeComponent(size)
	if quality != "" || style != "" {
		q := sanitizeComponent(quality)
		if q == "" {
			q = "x"
		}
		s := sanitizeComponent(style)
		if s == "" {
			s = "x"
		}
		id += fieldSep + q + fieldSep + s
	}
	return id
}

// FileIDFor returns the deterministic file ID for an entry, preferring the
// song identity when present.
func FileIDFor(e Entry) string {
	if e.HasIdentity() {
		return IdentityFileID(e.SongTitle, e.Artist, e.PromptHash)
	}
	return KeyFileID(e.PromptHash, e.Model, e.Size, e.Quality, e.Style)
}

// fullHashLen is the length of a hex-encoded BLAKE2b-256 prompt hash, used
// to tell generation-key file names apart from identity file names.
const fullHashLen = 64

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

// parseFileID reconstructs the key fields of an Entry from a file ID
// produced by IdentityFileID or KeyFileID. Returns false for file names
// this package did not produce.
func parseFileID(fileID string) (Entry, bool) {
	parts := strings.Split(fileID, fieldSep)

	// Generation key: 64-hex hash, model, size, optionally quality+style.
	if len(parts[0]) == fullHashLen && hexRe.MatchString(parts[0]) {
		switch len(parts) {
		case 3:
			return Entry{FileID: fileID, PromptHash: parts[0], Model: parts[1], Size: parts[2]}, true
		case 5:
			e := Entry{FileID: fileID, PromptHash: parts[0], Model: parts[1], Size: parts[2]}
			if parts[3] != "x" {
				e.Quality = parts[3]
			}
			if parts[4] != "x" {
				e.Style = parts[4]
			}
			return e, true
		default:
			return Entry{}, false
		}
	}

	// Identity: title, artist (possibly empty), 8-hex hash prefix.
	if len(parts) == 3 && len(parts[2]) == 8 && hexRe.MatchString(parts[2]) && parts[0] != "" {
		return Entry{
			FileID:     fileID,
			SongTitle:  parts[0],
			Artist:     parts[1],
			PromptHash: parts[2],
		}, true
	}

	return Entry{}, false
}

// extensionForMIME maps an image MIME type onto a file extension, defaulting
// to .png.
func extensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// identityMatches implements the identity lookup rule: case-insensitive
// exact title match, artist compared only when both sides supply one.
func identityMatches(e Entry, title, artist string) bool {
	if !strings.EqualFold(normalizeTitle(e.SongTitle), normalizeTitle(title)) {
		return false
	}
	if e.Artist == "" || artist == "" {
		return true
	}
	return strings.EqualFold(normalizeTitle(e.Artist), normalizeTitle(artist))
}

// normalizeTitle reduces a title or artist to the sanitized form stored in
// file names so lookups survive the round trip through the filesystem.
func normalizeTitle(s string) string {
	return sanitizeComponent(s)
}

// String implements fmt.Stringer for log output.
func (e Entry) String() string {
	if e.HasIdentity() {
		return fmt.Sprintf("identity(%s/%s)@%s", e.SongTitle, e.Artist, e.FileID)
	}
	return fmt.Sprintf("key(%s)@%s", e.Model, e.FileID)
}
