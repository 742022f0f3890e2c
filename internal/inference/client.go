// Package inference talks to the remote video-understanding service.
package inference

import "context"

// FileState is the remote processing state of an uploaded file.
type FileState string

const (
	StateProcessing FileState = "PROCESSING"
	StateActive     FileState = "ACTIVE"
	StateFailed     FileState = "FAILED"
)

// File is the opaque handle returned by Upload.
type File struct {
	Name     string    `json:"name"`
	URI      string    `json:"uri"`
	MimeType string    `json:"mimeType"`
	State    FileState `json:"state"`
}

// Client is the remote inference capability used by the analysis flow.
type Client interface {
	Upload(ctx context.Context, path, mimeType string) (*File, error)
	Status(ctx context.Context, name string) (FileState, error)
	Infer(ctx context.Context, file *File, prompt string) (string, error)
	Delete(ctx context.Context, name string) error
}
