// Package attachments uploads receipt files to a principal's private blob
// storage. It never decides who may see a file; that rule lives with the
// transaction that references it.
package attachments

import (
	"context"
	"io"
)

// File is an upload payload.
type File struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// Ref points at an uploaded file.
type Ref struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ViewLink     string `json:"viewLink"`
	DownloadLink string `json:"downloadLink,omitempty"`
}

// URL is the value stored as the transaction's attachment URL.
func (r Ref) URL() string {
	if r.ViewLink != "" {
		return r.ViewLink
	}
	return r.DownloadLink
}

// Store uploads into the private folder of whoever owns token. Every
// failure wraps core.ErrUploadFailed.
type Store interface {
	Upload(ctx context.Context, token string, f File) (Ref, error)
}
