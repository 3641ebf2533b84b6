// Package avatars answers render-time avatar lookups from the metadata store
// and the local file cache. It never touches the network.
package avatars

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/cachepath"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
)

// Kind distinguishes the shapes a Descriptor can take.
type Kind string

const (
	// KindImage points at a concrete image URL.
	KindImage Kind = "image"
	// KindBlank renders an empty placeholder box.
	KindBlank Kind = "blank"
	// KindProviderDefault names a provider-generated default that is passed through unresolved.
	KindProviderDefault Kind = "provider-default"
)

const (
	PolicyMystery         = "mystery"
	PolicyGravatarDefault = "gravatar_default"
	PolicyBlank           = "blank"

	classAvatar     = "avatar"
	classLibravatar = "libravatar"
	classMastodon   = "mastodon"
)

var errMissingStore = errors.New("metadata store is required")

// RecordReader is the read half of the metadata store.
type RecordReader interface {
	Get(ctx context.Context, commentID profiles.CommentID) (profiles.ProfileRecord, bool, error)
}

// Size is the requested render size in pixels.
type Size struct {
	Width  int
	Height int
}

// Descriptor tells the host page what to draw.
type Descriptor struct {
	Kind            Kind     `json:"kind"`
	URL             string   `json:"url,omitempty"`
	Classes         []string `json:"classes"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Alt             string   `json:"alt"`
	ProviderDefault string   `json:"provider_default,omitempty"`
}

type ResolverConfig struct {
	Store          RecordReader
	CacheRoot      string
	PublicURL      string
	DefaultPolicy  string
	PlaceholderURL string
	DefaultSize    int
	Logger         *zap.Logger
}

// Resolver maps a comment to a Descriptor.
type Resolver struct {
	store          RecordReader
	cacheRoot      string
	publicURL      string
	defaultPolicy  string
	placeholderURL string
	defaultSize    int
	logger         *zap.Logger
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultSize := cfg.DefaultSize
	if defaultSize <= 0 {
		defaultSize = 128
	}
	return &Resolver{
		store:          cfg.Store,
		cacheRoot:      cfg.CacheRoot,
		publicURL:      cfg.PublicURL,
		defaultPolicy:  strings.TrimSpace(cfg.DefaultPolicy),
		placeholderURL: cfg.PlaceholderURL,
		defaultSize:    defaultSize,
		logger:         logger,
	}, nil
}

// Render returns the cached image when the comment has a record whose file
// exists, and the configured default otherwise.
func (r *Resolver) Render(ctx context.Context, commentID profiles.CommentID, size Size, alt string) Descriptor {
	size = r.normalizeSize(size)

	record, found, err := r.store.Get(ctx, commentID)
	if err != nil {
		r.logger.Warn("avatar metadata lookup failed",
			zap.String("comment_id", commentID.String()),
			zap.Error(err))
		return r.fallback(size, alt)
	}
	if !found {
		return r.fallback(size, alt)
	}

	location, err := cachepath.Derive(record)
	if err != nil {
		r.logger.Debug("avatar cache path rejected",
			zap.String("comment_id", commentID.String()),
			zap.Error(err))
		return r.fallback(size, alt)
	}
	if _, err := os.Stat(location.Under(r.cacheRoot)); err != nil {
		return r.fallback(size, alt)
	}

	return Descriptor{
		Kind:    KindImage,
		URL:     location.URL(r.publicURL),
		Classes: classesFor(record.Source),
		Width:   size.Width,
		Height:  size.Height,
		Alt:     alt,
	}
}

func (r *Resolver) normalizeSize(size Size) Size {
	if size.Width <= 0 && size.Height <= 0 {
		return Size{Width: r.defaultSize, Height: r.defaultSize}
	}
	if size.Width <= 0 {
		size.Width = size.Height
	}
	if size.Height <= 0 {
		size.Height = size.Width
	}
	return size
}

func (r *Resolver) fallback(size Size, alt string) Descriptor {
	descriptor := Descriptor{
		Classes: []string{classAvatar},
		Width:   size.Width,
		Height:  size.Height,
		Alt:     alt,
	}
	policy := r.defaultPolicy
	lowered := strings.ToLower(policy)
	switch {
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		descriptor.Kind = KindImage
		descriptor.URL = policy
	case lowered == PolicyBlank:
		descriptor.Kind = KindBlank
	case lowered == "", lowered == PolicyMystery, lowered == PolicyGravatarDefault:
		descriptor.Kind = KindImage
		descriptor.URL = r.placeholderURL
	default:
		descriptor.Kind = KindProviderDefault
		descriptor.ProviderDefault = policy
	}
	return descriptor
}

func classesFor(source profiles.Source) []string {
	switch source {
	case profiles.SourceFederatedFallback:
		return []string{classAvatar, classLibravatar}
	case profiles.SourceSocial:
		return []string{classAvatar, classMastodon}
	default:
		return []string{classAvatar}
	}
}
