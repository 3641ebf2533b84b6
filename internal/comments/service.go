// Package comments runs the avatar pipeline once per comment submission.
//
// Nothing in HandleSubmission fails the submission itself: provider, store and
// mirror problems are logged and reported as an unresolved Outcome.
package comments

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/mirror"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/providers"
	"go.uber.org/zap"
)

var (
	errMissingResolver = errors.New("profile resolver is required")
	errMissingStore    = errors.New("metadata store is required")
	errMissingMirror   = errors.New("image mirror is required")
)

// ProfileResolver is satisfied by providers.Resolver.
type ProfileResolver interface {
	Resolve(ctx context.Context, who providers.Identity) (profiles.ProfileRecord, bool)
}

// RecordWriter is the write half of the metadata store.
type RecordWriter interface {
	Set(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) error
}

// Installer is satisfied by mirror.Mirror.
type Installer interface {
	Install(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) (mirror.Result, error)
}

// Submission is the author identity attached to a new comment.
type Submission struct {
	CommentID   string
	AuthorEmail string
	AuthorURL   string
}

// Outcome reports what the pipeline did for one submission.
type Outcome struct {
	Resolved           bool            `json:"resolved"`
	Source             profiles.Source `json:"source,omitempty"`
	AvatarURL          string          `json:"avatar_url,omitempty"`
	SuggestedAuthorURL string          `json:"suggested_author_url,omitempty"`
}

type ServiceConfig struct {
	Resolver  ProfileResolver
	Store     RecordWriter
	Mirror    Installer
	PublicURL string
	Logger    *zap.Logger
}

// Service wires the resolver, the metadata store and the mirror.
type Service struct {
	resolver  ProfileResolver
	store     RecordWriter
	mirror    Installer
	publicURL string
	logger    *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, errMissingResolver
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Mirror == nil:
		return nil, errMissingMirror
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		resolver:  cfg.Resolver,
		store:     cfg.Store,
		mirror:    cfg.Mirror,
		publicURL: cfg.PublicURL,
		logger:    logger,
	}, nil
}

// HandleSubmission resolves the author's avatar, stores the record and mirrors
// the image. The only error returned is an invalid comment identifier.
func (s *Service) HandleSubmission(ctx context.Context, submission Submission) (Outcome, error) {
	commentID, err := profiles.NewCommentID(submission.CommentID)
	if err != nil {
		return Outcome{}, err
	}

	record, found := s.resolver.Resolve(ctx, providers.Identity{
		Email:     submission.AuthorEmail,
		AuthorURL: submission.AuthorURL,
	})
	if !found {
		s.logger.Debug("no avatar profile found", zap.String("comment_id", commentID.String()))
		return Outcome{}, nil
	}

	outcome := Outcome{
		Resolved: true,
		Source:   record.Source,
	}
	if strings.TrimSpace(submission.AuthorURL) == "" {
		outcome.SuggestedAuthorURL = upgradeToHTTPS(record.ProviderProfileURL)
	}

	if err := s.store.Set(ctx, commentID, record); err != nil {
		s.logger.Error("avatar profile not stored",
			zap.String("comment_id", commentID.String()),
			zap.String("source", string(record.Source)),
			zap.Error(err))
	}

	// The mirror logs its own failures.
	result, err := s.mirror.Install(ctx, commentID, record)
	if err == nil {
		outcome.AvatarURL = result.Location.URL(s.publicURL)
	}
	return outcome, nil
}

func upgradeToHTTPS(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if len(trimmed) >= len("http:") && strings.EqualFold(trimmed[:len("http:")], "http:") {
		return "https:" + trimmed[len("http:"):]
	}
	return trimmed
}
