package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/auth"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/avatars"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/comments"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/database"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/metadata"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/mirror"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/notify"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/preview"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/providers"
	"go.uber.org/zap"
)

const integrationHash = "b4c9a289323b21a01c3e940f150eb9b8c542587f1abfd8f0e1cc1ffc5e475514"

var integrationImage = []byte("\x89PNG\r\n\x1a\nintegration-avatar")

func TestCommentHookMirrorsAndStreams(t *testing.T) {
	var gravatarURL string
	gravatar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + integrationHash + ".json":
			_, _ = w.Write([]byte(`{"entry":[{"hash":"ignored","thumbnailUrl":"` + gravatarURL + `/avatar/` + integrationHash + `","profileUrl":"http://gravatar.example/user"}]}`))
		case "/avatar/" + integrationHash + ".png":
			_, _ = w.Write(integrationImage)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer gravatar.Close()
	gravatarURL = gravatar.URL

	logger := zap.NewNop()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "integration.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	store, err := metadata.NewSQLStore(metadata.SQLStoreConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	dispatcher := notify.NewDispatcher(4)
	cacheRoot := t.TempDir()
	imageMirror, err := mirror.New(mirror.Config{
		CacheRoot:  cacheRoot,
		HTTPClient: gravatar.Client(),
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build mirror: %v", err)
	}
	resolver := providers.NewResolver(providers.ResolverConfig{
		Primary: providers.NewGravatarClient(gravatar.Client(), providers.WithGravatarBaseURL(gravatar.URL)),
		Logger:  logger,
	})
	commentService, err := comments.NewService(comments.ServiceConfig{
		Resolver:  resolver,
		Store:     store,
		Mirror:    imageMirror,
		PublicURL: "/avatars",
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to build comment service: %v", err)
	}
	renderer, err := avatars.NewResolver(avatars.ResolverConfig{
		Store:          store,
		CacheRoot:      cacheRoot,
		PublicURL:      "/avatars",
		DefaultPolicy:  avatars.PolicyMystery,
		PlaceholderURL: placeholderPath,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to build renderer: %v", err)
	}

	secret := []byte("integration-secret")
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: secret, TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	validator, err := auth.NewHookValidator(auth.HookValidatorConfig{SigningSecret: secret})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:         validator,
		Submissions:    commentService,
		Avatars:        renderer,
		Prober:         preview.NewProber(gravatar.Client()),
		Events:         dispatcher,
		CacheRoot:      cacheRoot,
		CachePublicURL: "/avatars",
		Logger:         zap.NewExample(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	token, _, err := issuer.IssueHookToken(context.Background(), "blog.example")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/events/avatars?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	streamReader := bufio.NewReader(streamResp.Body)

	payload := `{"comment_id":"42","author_email":" User@Example.com","author_url":""}`
	hookRequest, err := http.NewRequest(http.MethodPost, server.URL+"/hooks/comments", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("failed to construct hook request: %v", err)
	}
	hookRequest.Header.Set("Authorization", "Bearer "+token)
	hookRequest.Header.Set("Content-Type", "application/json")
	hookResp, err := http.DefaultClient.Do(hookRequest)
	if err != nil {
		t.Fatalf("hook request failed: %v", err)
	}
	var outcome submissionResponsePayload
	if err := json.NewDecoder(hookResp.Body).Decode(&outcome); err != nil {
		t.Fatalf("failed to decode hook response: %v", err)
	}
	_ = hookResp.Body.Close()
	expectedURL := "/avatars/b4/" + integrationHash + ".png"
	if !outcome.Resolved || outcome.Source != "primary" || outcome.AvatarURL != expectedURL {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.SuggestedAuthorURL != "https://gravatar.example/user" {
		t.Fatalf("unexpected suggested author url %q", outcome.SuggestedAuthorURL)
	}

	waitForDownloadEvent(t, streamReader)

	imageResp, err := http.Get(server.URL + expectedURL)
	if err != nil {
		t.Fatalf("failed to fetch cached image: %v", err)
	}
	served, err := io.ReadAll(imageResp.Body)
	_ = imageResp.Body.Close()
	if err != nil {
		t.Fatalf("failed to read cached image: %v", err)
	}
	if imageResp.StatusCode != http.StatusOK || !bytes.Equal(served, integrationImage) {
		t.Fatalf("cached image mismatch: status %d", imageResp.StatusCode)
	}

	renderResp, err := http.Get(server.URL + "/comments/42/avatar?width=64&height=64&alt=User")
	if err != nil {
		t.Fatalf("render request failed: %v", err)
	}
	var descriptor avatars.Descriptor
	if err := json.NewDecoder(renderResp.Body).Decode(&descriptor); err != nil {
		t.Fatalf("failed to decode descriptor: %v", err)
	}
	_ = renderResp.Body.Close()
	if descriptor.Kind != avatars.KindImage || descriptor.URL != expectedURL {
		t.Fatalf("unexpected descriptor %+v", descriptor)
	}

	unknownResp, err := http.Get(server.URL + "/comments/99/avatar")
	if err != nil {
		t.Fatalf("render request failed: %v", err)
	}
	var fallback avatars.Descriptor
	if err := json.NewDecoder(unknownResp.Body).Decode(&fallback); err != nil {
		t.Fatalf("failed to decode descriptor: %v", err)
	}
	_ = unknownResp.Body.Close()
	if fallback.URL != placeholderPath {
		t.Fatalf("expected placeholder for unknown comment, got %+v", fallback)
	}
}

func waitForDownloadEvent(t *testing.T, streamReader *bufio.Reader) {
	t.Helper()
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for download event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != notify.EventImageDownloaded {
				continue
			}
			var event notify.ImageDownloaded
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.CommentID != "42" || event.Record.IdentityHash != integrationHash {
				t.Fatalf("unexpected event %+v", event)
			}
			return
		}
	}
}
