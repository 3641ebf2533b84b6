// Package mirror downloads resolved avatar images into the local file cache.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/cachepath"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/notify"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultSize is the pixel size requested from hash-based providers.
	DefaultSize = 128
	// DefaultMaxImageBytes bounds a downloaded image.
	DefaultMaxImageBytes int64 = 8 << 20

	defaultUserAgent = "avatar-mirror"
	lockRetryDelay   = 10 * time.Millisecond
	fileMode         = 0o644
	dirMode          = 0o755
)

var (
	// ErrStorageFailure indicates that the cache directory or file could not be written.
	ErrStorageFailure = errors.New("mirror: storage failure")
	// ErrDownloadFailed indicates that the image request failed or returned a non-2xx status.
	ErrDownloadFailed = errors.New("mirror: download failed")
	// ErrInvalidImage indicates that the downloaded body failed content checks.
	ErrInvalidImage = errors.New("mirror: invalid image body")

	errMissingCacheRoot = errors.New("cache root is required")
	noOpLogger          = zap.NewNop()
)

const (
	opMirrorNew     = "mirror.new"
	opMirrorInstall = "mirror.install"
)

// ServiceError carries an "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// Publisher receives install notifications.
type Publisher interface {
	Publish(event notify.ImageDownloaded)
}

type Config struct {
	CacheRoot     string
	HTTPClient    *http.Client
	Size          int
	MaxImageBytes int64
	UserAgent     string
	Publisher     Publisher
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Mirror installs avatar images under a cache root.
type Mirror struct {
	cacheRoot     string
	httpClient    *http.Client
	size          int
	maxImageBytes int64
	userAgent     string
	publisher     Publisher
	clock         func() time.Time
	logger        *zap.Logger
}

// Result describes an installed cache entry.
type Result struct {
	Location cachepath.Location
	Path     string
}

func New(cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.CacheRoot) == "" {
		return nil, newServiceError(opMirrorNew, "missing_cache_root", errMissingCacheRoot)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Mirror{
		cacheRoot:     cfg.CacheRoot,
		httpClient:    httpClient,
		size:          size,
		maxImageBytes: maxImageBytes,
		userAgent:     userAgent,
		publisher:     cfg.Publisher,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Install derives the cache path for the record, downloads the image and
// atomically replaces any previous file at that path. On failure the
// previous file is left untouched.
func (m *Mirror) Install(ctx context.Context, commentID profiles.CommentID, record profiles.ProfileRecord) (Result, error) {
	location, err := cachepath.Derive(record)
	if err != nil {
		reason := "missing_identity"
		if errors.Is(err, cachepath.ErrStemTooShort) {
			reason = "stem_too_short"
		}
		return Result{}, m.fail(reason, err, commentID)
	}

	finalPath := location.Under(m.cacheRoot)
	directory := filepath.Dir(finalPath)
	if err := os.MkdirAll(directory, dirMode); err != nil {
		return Result{}, m.fail("storage_failure", fmt.Errorf("%w: %v", ErrStorageFailure, err), commentID)
	}

	downloadURL, err := m.downloadURL(record)
	if err != nil {
		return Result{}, m.fail("download_failed", fmt.Errorf("%w: %v", ErrDownloadFailed, err), commentID)
	}

	body, err := m.download(ctx, downloadURL)
	if err != nil {
		reason := "download_failed"
		if errors.Is(err, ErrInvalidImage) {
			reason = "invalid_image"
		}
		return Result{}, m.fail(reason, err, commentID, zap.String("url", downloadURL))
	}

	if err := m.writeLocked(ctx, finalPath, body); err != nil {
		return Result{}, m.fail("storage_failure", err, commentID)
	}

	if m.publisher != nil {
		m.publisher.Publish(notify.ImageDownloaded{
			EventID:   uuid.NewString(),
			Path:      finalPath,
			CommentID: commentID.String(),
			Record:    record,
			At:        m.clock().UTC(),
		})
	}
	m.logger.Debug("avatar mirrored",
		zap.String("comment_id", commentID.String()),
		zap.String("path", finalPath),
		zap.Int("bytes", len(body)))
	return Result{Location: location, Path: finalPath}, nil
}

func (m *Mirror) downloadURL(record profiles.ProfileRecord) (string, error) {
	if record.ImageReferenceURL == "" {
		return "", errors.New("empty image reference url")
	}
	if !record.Source.HashBased() {
		return record.ImageReferenceURL, nil
	}
	parsed, err := url.Parse(record.ImageReferenceURL)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(strings.ToLower(parsed.Path), "."+cachepath.Extension) {
		parsed.Path += "." + cachepath.Extension
		parsed.RawPath = ""
	}
	query := parsed.Query()
	query.Set("s", strconv.Itoa(m.size))
	query.Set("r", "x")
	query.Set("d", "404")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (m *Mirror) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if err := validateBody(body, m.maxImageBytes); err != nil {
		return nil, err
	}
	return body, nil
}

// validateBody rejects empty bodies, markup, textual "404" pages and oversized payloads.
func validateBody(body []byte, maxBytes int64) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	if int64(len(body)) > maxBytes {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidImage, maxBytes)
	}
	leading := bytes.TrimLeft(body, " \t\r\n")
	if bytes.HasPrefix(leading, []byte("<")) {
		return fmt.Errorf("%w: markup", ErrInvalidImage)
	}
	if bytes.HasPrefix(leading, []byte("404")) {
		return fmt.Errorf("%w: not found page", ErrInvalidImage)
	}
	return nil
}

func (m *Mirror) writeLocked(ctx context.Context, finalPath string, body []byte) error {
	lock := flock.New(finalPath + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: lock: %v", ErrStorageFailure, err)
	}
	if !locked {
		return fmt.Errorf("%w: lock not acquired", ErrStorageFailure)
	}
	defer func() { _ = lock.Unlock() }()

	return writeAtomic(finalPath, body)
}

// writeAtomic writes body beside finalPath and renames it into place so
// readers see either the old file or the new one.
func writeAtomic(finalPath string, body []byte) (err error) {
	directory := filepath.Dir(finalPath)
	temp, err := os.CreateTemp(directory, "."+filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStorageFailure, err)
	}
	tempPath := temp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err = temp.Write(body); err != nil {
		_ = temp.Close()
		return fmt.Errorf("%w: write: %v", ErrStorageFailure, err)
	}
	if err = temp.Sync(); err != nil {
		_ = temp.Close()
		return fmt.Errorf("%w: sync: %v", ErrStorageFailure, err)
	}
	if err = temp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStorageFailure, err)
	}
	if err = os.Chmod(tempPath, fileMode); err != nil {
		return fmt.Errorf("%w: chmod: %v", ErrStorageFailure, err)
	}
	if err = os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrStorageFailure, err)
	}
	return nil
}

func (m *Mirror) fail(reason string, err error, commentID profiles.CommentID, fields ...zap.Field) error {
	logError(m.logger, opMirrorInstall, reason, err, append(fields, zap.String("comment_id", commentID.String()))...)
	return newServiceError(opMirrorInstall, reason, err)
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
	logger.Error("avatar mirror error", attrs...)
}
