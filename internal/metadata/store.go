// Package metadata persists resolved avatar profiles against comment identifiers.
//
// Every Set replaces the stored record wholesale. There is no merge and no
// history: a commenter who changes their picture upstream should see it on
// their next comment.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingClient   = errors.New("redis client is required")
	noOpLogger         = zap.NewNop()
)

const (
	opGet = "metadata.get"
	opSet = "metadata.set"
)

// Store is the key-value adapter consumed by the hook and the render path.
type Store interface {
	Get(ctx context.Context, commentID profiles.CommentID) (profiles.ProfileRecord, bool, error)
	Set(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) error
}

// StoreError carries an "<operation>.<reason>" code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable failure code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: operation + "." + reason, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("metadata store error", attrs...)
}
