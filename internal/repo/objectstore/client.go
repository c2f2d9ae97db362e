package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/pkg/util"
	"github.com/go-resty/resty/v2"
)

// Client resolves attachment references against the object storage
// gateway. References are opaque handles produced by the upload flow;
// resolving one yields a short-lived download URL plus the stored
// metadata.
type Client interface {
	Resolve(ctx context.Context, ref string) (*ResolvedAttachment, error)
	ResolveAll(ctx context.Context, attachments []models.Attachment) ([]models.Attachment, error)
}

type ResolvedAttachment struct {
	Ref       string    `json:"ref"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

type client struct {
	http   *resty.Client
	bucket string
}

func NewClient(conf *config.Config) Client {
	rc := util.NewRestyClient().
		SetBaseURL(conf.Storage.BaseURL)
	return &client{
		http:   rc,
		bucket: conf.Storage.Bucket,
	}
}

func (c *client) Resolve(ctx context.Context, ref string) (*ResolvedAttachment, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty attachment ref")
	}

	var out ResolvedAttachment
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("bucket", c.bucket).
		SetPathParam("ref", ref).
		SetResult(&out).
		Get("/v1/objects/{bucket}/{ref}")
	if err != nil {
		return nil, fmt.Errorf("resolve attachment %s: %w", ref, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, models.ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("object store returned status %d for %s", resp.StatusCode(), ref)
	}
	out.Ref = ref
	return &out, nil
}

// ResolveAll fills in the name and size of every attachment from the
// stored object metadata. Refs the store no longer knows about fail the
// whole batch so a message never goes out with a dangling attachment.
func (c *client) ResolveAll(ctx context.Context, attachments []models.Attachment) ([]models.Attachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	resolved := make([]models.Attachment, 0, len(attachments))
	for _, att := range attachments {
		obj, err := c.Resolve(ctx, att.Ref)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, models.Attachment{
			Ref:  obj.Ref,
			Name: obj.Name,
			Size: obj.Size,
		})
	}
	return resolved, nil
}
