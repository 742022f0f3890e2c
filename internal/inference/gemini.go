package inference

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single HTTP exchange, uploads included.
	Timeout time.Duration
}

// GeminiClient implements Client on the Gemini Developer API through the
// genai SDK.
type GeminiClient struct {
	genai  *genai.Client
	model  string
	logger zerolog.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		genai:  client,
		model:  cfg.Model,
		logger: logger.With().Str("component", "inference").Logger(),
	}, nil
}

// Upload pushes the file at path to the Files API.
func (c *GeminiClient) Upload(ctx context.Context, path, mimeType string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", path)
		}
		return nil, apperr.Wrap(apperr.KindFileMissing, "open video for upload", err)
	}

	f, err := c.genai.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return nil, c.failed(ctx, "file upload", err)
	}

	c.logger.Info().
		Str("file", f.Name).
		Int64("bytes", info.Size()).
		Str("state", string(f.State)).
		Msg("video uploaded for inference")
	return fromSDK(f), nil
}

// Status returns the current processing state of an uploaded file.
func (c *GeminiClient) Status(ctx context.Context, name string) (FileState, error) {
	f, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return "", c.failed(ctx, "file status", err)
	}
	return FileState(f.State), nil
}

// Infer runs prompt against the uploaded file in JSON output mode and returns
// the raw response text.
func (c *GeminiClient) Infer(ctx context.Context, file *File, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{FileData: &genai.FileData{FileURI: file.URI, MIMEType: file.MimeType}},
			{Text: prompt},
		},
	}}

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", c.failed(ctx, "generate content", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", apperr.New(apperr.KindRemoteUnknown, "model returned no content").
			WithDetails(map[string]any{"reason": emptyReason(resp)})
	}

	c.logger.Debug().
		Str("file", file.Name).
		Str("model", c.model).
		Dur("took", time.Since(start)).
		Msg("inference completed")
	return text, nil
}

// Delete removes an uploaded file. A file that is already gone is not an error.
func (c *GeminiClient) Delete(ctx context.Context, name string) error {
	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Code == http.StatusNotFound {
			return nil
		}
		return c.failed(ctx, "file delete", err)
	}
	return nil
}

func (c *GeminiClient) failed(ctx context.Context, op string, err error) error {
	if apiErr, ok := asAPIError(err); ok {
		c.logger.Warn().
			Str("op", op).
			Int("status", apiErr.Code).
			Str("rpc_status", apiErr.Status).
			Msg("remote request rejected")
	} else if ctx.Err() == nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("remote request failed")
	}
	return classify(ctx, op, err)
}

func fromSDK(f *genai.File) *File {
	return &File{
		Name:     f.Name,
		URI:      f.URI,
		MimeType: f.MIMEType,
		State:    FileState(f.State),
	}
}

// responseText joins the text parts of the first candidate, skipping thoughts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func emptyReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		return string(resp.Candidates[0].FinishReason)
	}
	return ""
}

// MissingKeyClient stands in when no API key is configured: every call fails
// with an auth error instead of the process refusing to start.
type MissingKeyClient struct{}

var errNoKey = apperr.New(apperr.KindRemoteAuth, "inference API key is not configured")

func (MissingKeyClient) Upload(context.Context, string, string) (*File, error) { return nil, errNoKey }
func (MissingKeyClient) Status(context.Context, string) (FileState, error) { return "", errNoKey }
func (MissingKeyClient) Infer(context.Context, *File, string) (string, error) { return "", errNoKey }
func (MissingKeyClient) Delete(context.Context, string) error { return nil }
