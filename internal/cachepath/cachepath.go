// Package cachepath derives the on-disk location of a mirrored avatar.
//
// The same rules run when an image is installed and when a page renders, so
// the path must depend only on the record's identity fields.
package cachepath

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
)

const (
	// Extension is the single stored image extension.
	Extension = "png"
	// MinStemLength is the shortest sanitized file stem accepted.
	MinStemLength = 10
)

var (
	// ErrStemTooShort indicates that the sanitized stem fell below MinStemLength.
	ErrStemTooShort = errors.New("cachepath: sanitized stem too short")
	// ErrMissingIdentity indicates that the record lacks the field its source derives from.
	ErrMissingIdentity = errors.New("cachepath: record missing identity field")
)

// Location is a derived cache entry address.
type Location struct {
	Subdir string
	Stem   string
}

// FileName returns "<stem>.png".
func (l Location) FileName() string {
	return l.Stem + "." + Extension
}

// Relative returns the slash-separated "<subdir>/<stem>.png".
func (l Location) Relative() string {
	return path.Join(l.Subdir, l.FileName())
}

// Under joins the location onto a cache root directory.
func (l Location) Under(root string) string {
	return filepath.Join(root, l.Subdir, l.FileName())
}

// URL joins the location onto a public URL prefix.
func (l Location) URL(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/" + l.Relative()
}

// Derive computes the cache location for a record.
func Derive(record profiles.ProfileRecord) (Location, error) {
	raw, err := rawStem(record)
	if err != nil {
		return Location{}, err
	}
	stem, err := Sanitize(raw)
	if err != nil {
		return Location{}, err
	}
	return Location{Subdir: subdir(record.Source, stem), Stem: stem}, nil
}

func rawStem(record profiles.ProfileRecord) (string, error) {
	if record.Source.HashBased() {
		if record.IdentityHash == "" {
			return "", fmt.Errorf("%w: identity hash", ErrMissingIdentity)
		}
		return record.IdentityHash, nil
	}
	if record.Source == profiles.SourceSocial {
		if record.SocialHandle == "" {
			return "", fmt.Errorf("%w: social handle", ErrMissingIdentity)
		}
		return strings.ReplaceAll(strings.ToLower(record.SocialHandle), "@", "."), nil
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrMissingIdentity, record.Source)
}

// Sanitize strips one leading '-', '_' or '.', drops every character outside
// [A-Za-z0-9._-] and enforces MinStemLength.
func Sanitize(raw string) (string, error) {
	if raw != "" && strings.ContainsRune("-_.", rune(raw[0])) {
		raw = raw[1:]
	}
	var builder strings.Builder
	builder.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isStemByte(c) {
			builder.WriteByte(c)
		}
	}
	stem := builder.String()
	if len(stem) < MinStemLength {
		return "", fmt.Errorf("%w: %q", ErrStemTooShort, stem)
	}
	return stem, nil
}

func isStemByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.':
		return true
	default:
		return false
	}
}

// Digest stems are uniform so their first two characters balance the fan-out.
// Social stems get the hex of their first byte instead.
func subdir(source profiles.Source, stem string) string {
	if source == profiles.SourceSocial {
		return fmt.Sprintf("%02x", stem[0])
	}
	return stem[:2]
}
