package identity

import (
	"context"

	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/pkg/ctxval"
)

type userKey struct{}

// Provider answers who the current caller is. Identities are opaque
// strings minted by the platform's auth layer; this package only carries
// them, it never validates them.
type Provider interface {
	CurrentUser(ctx context.Context) (string, error)
}

type provider struct {
	fallback string
}

func NewProvider(conf *config.Config) Provider {
	return &provider{fallback: conf.Identity.ServiceUser}
}

func (p *provider) CurrentUser(ctx context.Context) (string, error) {
	if user, ok := ctxval.Get[userKey, string](ctx, userKey{}); ok && user != "" {
		return user, nil
	}
	if p.fallback != "" {
		return p.fallback, nil
	}
	return "", models.ErrPermissionDenied
}

// WithUser stamps the caller identity onto the context. The context must
// flow through every downstream call so repositories and emitters see the
// same identity the request was authenticated as.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = ctxval.Wrap(ctx)
	ctxval.Set(ctx, userKey{}, userID)
	return ctx
}

// UserFromContext reports the identity stamped by WithUser, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctxval.Get[userKey, string](ctx, userKey{})
	return user, ok && user != ""
}
