package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
)

// fakeGemini serves the subset of the Files and generateContent API the
// client uses, following the resumable upload handshake.
type fakeGemini struct {
	mu        sync.Mutex
	t         *testing.T
	url       string
	uploaded  []byte
	state     FileState
	reply     string
	deleted   []string
	lastKey   string
	lastPath  string
	lastParts []map[string]any
	mimeType  string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key := r.Header.Get("x-goog-api-key"); key != "" {
		f.lastKey = key
	}
	w.Header().Set("Content-Type", "application/json")

	cmd := r.Header.Get("X-Goog-Upload-Command")
	switch {
	case strings.Contains(cmd, "start"):
		w.Header().Set("X-Goog-Upload-URL", f.url+"/resumable/abc")
		w.Header().Set("X-Goog-Upload-Status", "active")
		w.Write([]byte(`{}`))

	case strings.Contains(cmd, "upload"):
		body, _ := io.ReadAll(r.Body)
		f.uploaded = append(f.uploaded, body...)
		if !strings.Contains(cmd, "finalize") {
			w.Header().Set("X-Goog-Upload-Status", "active")
			w.Write([]byte(`{}`))
			return
		}
		w.Header().Set("X-Goog-Upload-Status", "final")
		json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{
			"name": "files/abc", "uri": "https://example.test/files/abc", "mimeType": "video/mp4", "state": "PROCESSING",
		}})

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files/abc"):
		json.NewEncoder(w).Encode(map[string]any{"name": "files/abc", "state": f.state})

	case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/files/"):
		id := path.Base(r.URL.Path)
		f.deleted = append(f.deleted, id)
		if id != "abc" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"File not found","status":"NOT_FOUND"}}`))
			return
		}
		w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":generateContent"):
		f.lastPath = r.URL.Path
		var req struct {
			Contents []struct {
				Parts []map[string]any `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				ResponseMimeType string `json:"responseMimeType"`
			} `json:"generationConfig"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mimeType = req.GenerationConfig.ResponseMimeType
		if len(req.Contents) == 1 {
			f.lastParts = req.Contents[0].Parts
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": f.reply}}},
				"finishReason": "STOP",
			}},
		})

	default:
		f.t.Errorf("unexpected request %s %s (upload command %q)", r.Method, r.URL.Path, cmd)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"no route","status":"NOT_FOUND"}}`))
	}
}

func newTestClient(t *testing.T, baseURL string) *GeminiClient {
	t.Helper()
	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gemini-2.0-flash",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	return client
}

func newFakeServer(t *testing.T) (*fakeGemini, *GeminiClient) {
	t.Helper()
	fake := &fakeGemini{t: t, state: StateActive, reply: `{"speed":280}`}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	fake.url = srv.URL
	return fake, newTestClient(t, srv.URL)
}

func TestGeminiClient_RoundTrip(t *testing.T) {
	fake, client := newFakeServer(t)
	ctx := context.Background()

	clip := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(clip, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	file, err := client.Upload(ctx, clip, "video/mp4")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if file.Name != "files/abc" || file.State != StateProcessing || file.URI != "https://example.test/files/abc" {
		t.Errorf("file = %+v", file)
	}
	if string(fake.uploaded) != "video-bytes" {
		t.Errorf("uploaded = %q", fake.uploaded)
	}
	if fake.lastKey != "test-key" {
		t.Errorf("api key = %q", fake.lastKey)
	}

	state, err := client.Status(ctx, file.Name)
	if err != nil || state != StateActive {
		t.Fatalf("Status = %s, %v", state, err)
	}

	text, err := client.Infer(ctx, file, "analyse")
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if text != `{"speed":280}` {
		t.Errorf("text = %q", text)
	}
	if !strings.HasSuffix(fake.lastPath, "gemini-2.0-flash:generateContent") {
		t.Errorf("model path = %q", fake.lastPath)
	}
	if fake.mimeType != "application/json" {
		t.Errorf("responseMimeType = %q", fake.mimeType)
	}
	if len(fake.lastParts) != 2 {
		t.Fatalf("parts = %v", fake.lastParts)
	}
	fd, _ := fake.lastParts[0]["fileData"].(map[string]any)
	if fd["fileUri"] != "https://example.test/files/abc" {
		t.Errorf("fileData = %v", fd)
	}
	if fake.lastParts[1]["text"] != "analyse" {
		t.Errorf("prompt part = %v", fake.lastParts[1])
	}

	if err := client.Delete(ctx, file.Name); err != nil {
		t.Errorf("Delete: %v", err)
	}
	// Already gone is fine.
	if err := client.Delete(ctx, "files/missing"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestGeminiClient_UploadMissingFile(t *testing.T) {
	_, client := newFakeServer(t)
	_, err := client.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), "video/mp4")
	if !errors.Is(err, apperr.ErrFileMissing) {
		t.Errorf("err = %v, want file missing", err)
	}
}

func TestGeminiClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperr.Kind
	}{
		{"bad key", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, apperr.KindRemoteAuth},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`, apperr.KindRemoteAuth},
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`, apperr.KindRemoteQuota},
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`, apperr.KindRemoteUnavailable},
		{"unknown model", http.StatusNotFound, `{"error":{"code":404,"message":"models/gemini-x is not found","status":"NOT_FOUND"}}`, apperr.KindRemoteUnavailable},
		{"other", http.StatusBadRequest, `{"error":{"code":400,"message":"Request contains an invalid argument.","status":"INVALID_ARGUMENT"}}`, apperr.KindRemoteUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Infer(context.Background(), &File{Name: "files/a", URI: "u", MimeType: "video/mp4"}, "p")
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.want, err)
			}
			if apiErr, ok := asAPIError(err); !ok || apiErr.Code != tt.status {
				t.Errorf("expected APIError with code %d, got %v", tt.status, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  genai.APIError
		want apperr.Kind
	}{
		{genai.APIError{Code: 401}, apperr.KindRemoteAuth},
		{genai.APIError{Code: 400, Status: "UNAUTHENTICATED"}, apperr.KindRemoteAuth},
		{genai.APIError{Code: 429}, apperr.KindRemoteQuota},
		{genai.APIError{Code: 500}, apperr.KindRemoteUnavailable},
		{genai.APIError{Code: 404, Message: "File not found"}, apperr.KindRemoteUnknown},
		{genai.APIError{Code: 400}, apperr.KindRemoteUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%+v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestGeminiClient_NetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Status(context.Background(), "files/a")
	if !errors.Is(err, apperr.ErrRemoteUnavailable) {
		t.Errorf("err = %v, want remote unavailable", err)
	}
}

func TestGeminiClient_CanceledContextIsNotClassified(t *testing.T) {
	_, client := newFakeServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Status(ctx, "files/abc")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context canceled", err)
	}
}

func TestGeminiClient_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Infer(context.Background(), &File{Name: "files/a"}, "p")
	if !errors.Is(err, apperr.ErrRemoteUnknown) {
		t.Fatalf("err = %v, want remote unknown", err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Details["reason"] != "SAFETY" {
		t.Errorf("details = %v", ae.Details)
	}
}

func TestMissingKeyClient(t *testing.T) {
	var c Client = MissingKeyClient{}
	if _, err := c.Upload(context.Background(), "x.mp4", "video/mp4"); !errors.Is(err, apperr.ErrRemoteAuth) {
		t.Errorf("Upload err = %v, want remote auth", err)
	}
	if err := c.Delete(context.Background(), "files/x"); err != nil {
		t.Errorf("Delete err = %v", err)
	}
}

func TestSmashPrompt_NamesRequiredKeys(t *testing.T) {
	for _, key := range []string{`"speed"`, `"level"`, `"score"`, `"technique"`, `"power"`, `"angle"`, `"coordination"`, `"suggestions"`, `"rank_position"`} {
		if !strings.Contains(SmashPrompt, key) {
			t.Errorf("prompt missing key %s", key)
		}
	}
}
