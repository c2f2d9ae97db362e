package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhubhq/chat-core/internal/models"
)

func TestBrowseClampsPaging(t *testing.T) {
	tests := []struct {
		name      string
		page      int
		limit     int
		wantLimit int64
		wantSkip  int64
	}{
		{"defaults", 0, 0, defaultBrowseLimit, 0},
		{"second page", 2, 10, 10, 10},
		{"negative page", -3, 10, 10, 0},
		{"limit capped", 1, 500, maxBrowseLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeChannelRepo{}
			uc := NewChannelUsecase(repo, &fakeUnreadRepo{}, staticIdentity("alice"))

			_, _, err := uc.Browse(context.Background(), tt.page, tt.limit)
			require.NoError(t, err)

			require.Len(t, repo.browseCalls, 1)
			assert.Equal(t, tt.wantLimit, repo.browseCalls[0].limit)
			assert.Equal(t, tt.wantSkip, repo.browseCalls[0].skip)
		})
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	uc := NewChannelUsecase(&fakeChannelRepo{}, &fakeUnreadRepo{}, staticIdentity("alice"))

	_, err := uc.Create(context.Background(), "   ", false)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}
