// Package idgen provides short, URL-safe ids for forms, collection rows and
// drafts, backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify what an id names.
const (
	PrefixForm  = "pf-"
	PrefixRow   = "row-"
	PrefixDraft = "dft-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// must panics on generator failure, which only happens with an invalid
// Alphabet or Length.
func must(prefix string) string {
	id, err := GenerateWithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id
}

// Form returns a new form id.
func Form() string { return must(PrefixForm) }

// Row returns a new collection row id.
func Row() string { return must(PrefixRow) }

// Draft returns a new draft id.
func Draft() string { return must(PrefixDraft) }
