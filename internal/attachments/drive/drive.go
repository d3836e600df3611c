// Package drive stores attachments in the uploading principal's Google
// Drive, inside a dedicated folder created on first use.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"moneymanager/internal/attachments"
	"moneymanager/internal/core"
	"moneymanager/internal/log"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Client uploads with a per-call delegated token, so one Client serves
// every principal.
type Client struct {
	folder string
	opts   []option.ClientOption
	now    func() time.Time
	logger *log.Logger
}

var _ attachments.Store = (*Client)(nil)

// New returns a Drive uploader writing into folder. Extra options are
// appended after the token source (tests point the endpoint at a fake).
func New(folder string, logger *log.Logger, opts ...option.ClientOption) *Client {
	return &Client{
		folder: folder,
		opts:   opts,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentDrive),
	}
}

func (c *Client) Upload(ctx context.Context, token string, f attachments.File) (attachments.Ref, error) {
	if strings.TrimSpace(token) == "" {
		return attachments.Ref{}, fmt.Errorf("%w: no delegated token", core.ErrUploadFailed)
	}
	if f.Content == nil || strings.TrimSpace(f.Name) == "" {
		return attachments.Ref{}, fmt.Errorf("%w: empty file", core.ErrUploadFailed)
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return attachments.Ref{}, fmt.Errorf("%w: drive service: %v", core.ErrUploadFailed, err)
	}

	folderID, err := c.ensureFolder(ctx, svc)
	if err != nil {
		return attachments.Ref{}, c.uploadErr(ctx, "ensure folder", err)
	}

	name := fmt.Sprintf("%d_%s", c.now().UnixMilli(), f.Name)
	meta := &drive.File{Name: name, Parents: []string{folderID}}
	if f.MimeType != "" {
		meta.MimeType = f.MimeType
	}
	created, err := svc.Files.Create(meta).
		Media(f.Content).
		Fields("id, webViewLink, webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return attachments.Ref{}, c.uploadErr(ctx, "create file", err)
	}

	c.logger.InfoContext(ctx, "Uploaded attachment", "file_id", created.Id, "name", name)
	return attachments.Ref{
		ID:           created.Id,
		Name:         f.Name,
		ViewLink:     created.WebViewLink,
		DownloadLink: created.WebContentLink,
	}, nil
}

func (c *Client) service(ctx context.Context, token string) (*drive.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(src)}, c.opts...)
	return drive.NewService(ctx, opts...)
}

// ensureFolder finds the attachment folder by name or creates it.
func (c *Client) ensureFolder(ctx context.Context, svc *drive.Service) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(c.folder), folderMimeType)
	list, err := svc.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find folder: %w", err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := svc.Files.Create(&drive.File{Name: c.folder, MimeType: folderMimeType}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	c.logger.InfoContext(ctx, "Created attachment folder", "folder", c.folder, "folder_id", folder.Id)
	return folder.Id, nil
}

func (c *Client) uploadErr(ctx context.Context, step string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		c.logger.WarnContext(ctx, "Delegated token rejected", "step", step)
		return fmt.Errorf("%w: delegated token expired or revoked", core.ErrUploadFailed)
	}
	return fmt.Errorf("%w: %s: %v", core.ErrUploadFailed, step, err)
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
