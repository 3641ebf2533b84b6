package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Source tags which provider produced a ProfileRecord.
type Source string

const (
	// SourcePrimary is the email-hash avatar service with rich profile metadata.
	SourcePrimary Source = "primary"
	// SourceFederatedFallback is the per-domain federated avatar network.
	SourceFederatedFallback Source = "federated-fallback"
	// SourceSocial is a federated social instance account lookup.
	SourceSocial Source = "social"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCommentID indicates that a comment identifier is empty or exceeds storage bounds.
	ErrInvalidCommentID = errors.New("profiles: invalid comment id")
	// ErrInvalidRecord indicates that a profile record violates its per-source rules.
	ErrInvalidRecord = errors.New("profiles: invalid profile record")
)

// Valid reports whether the source is one of the known tags.
func (s Source) Valid() bool {
	switch s {
	case SourcePrimary, SourceFederatedFallback, SourceSocial:
		return true
	default:
		return false
	}
}

// HashBased reports whether the cache path for the source derives from the email digest.
func (s Source) HashBased() bool {
	return s == SourcePrimary || s == SourceFederatedFallback
}

// CommentID represents a validated comment identifier.
type CommentID string

// NewCommentID validates raw input and returns a CommentID.
func NewCommentID(rawInput string) (CommentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommentID, maxIdentifierLength)
	}
	return CommentID(trimmed), nil
}

// String returns the underlying identifier.
func (id CommentID) String() string {
	return string(id)
}

// ProfileRecord is the provider-agnostic avatar profile attached to a comment.
// RawFields holds display-only provider attributes and is never interpreted here.
type ProfileRecord struct {
	Source             Source                     `json:"source"`
	IdentityHash       string                     `json:"identity_hash,omitempty"`
	ImageReferenceURL  string                     `json:"image_reference_url"`
	ProviderProfileURL string                     `json:"provider_profile_url,omitempty"`
	SocialHandle       string                     `json:"social_handle,omitempty"`
	RawFields          map[string]json.RawMessage `json:"raw_fields,omitempty"`
}

// Validate checks the per-source rules of the record.
func (r ProfileRecord) Validate() error {
	if !r.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, r.Source)
	}
	if strings.TrimSpace(r.ImageReferenceURL) == "" {
		return fmt.Errorf("%w: empty image reference url", ErrInvalidRecord)
	}
	if r.Source.HashBased() {
		if r.IdentityHash == "" {
			return fmt.Errorf("%w: %s record without identity hash", ErrInvalidRecord, r.Source)
		}
		if r.SocialHandle != "" {
			return fmt.Errorf("%w: %s record with social handle", ErrInvalidRecord, r.Source)
		}
		return nil
	}
	if r.SocialHandle == "" || !strings.Contains(r.SocialHandle, "@") {
		return fmt.Errorf("%w: social record without user@host handle", ErrInvalidRecord)
	}
	if r.IdentityHash != "" {
		return fmt.Errorf("%w: social record with identity hash", ErrInvalidRecord)
	}
	return nil
}
