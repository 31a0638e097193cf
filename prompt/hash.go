package prompt

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash returns the content address of a prompt as a lowercase hex string.
//
// BLAKE2b-256 keeps the key short while making collisions between distinct
// prompts practically impossible, so a (hash, model, size) tuple uniquely
// identifies a generation.
func Hash(promptText string) string {
	sum := blake2b.Sum256([]byte(promptText))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 hex characters of Hash, used in
// identity-keyed cache file names where the full hash would be unwieldy.
func ShortHash(promptText string) string {
	return Hash(promptText)[:8]
}
