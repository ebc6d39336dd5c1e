package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivateRejectsSecondActiveGrant(t *testing.T) {
	ctx := context.Background()
	s := NewPermissionStore()
	owner, admin, channel := uuid.New(), uuid.New(), uuid.New()
	expires := time.Now().Add(time.Hour)

	pending := func(token string) models.PermissionGrant {
		return s.Insert(models.PermissionGrant{
			OwnerID:         owner,
			ChannelID:       &channel,
			Status:          models.GrantPending,
			InviteToken:     token,
			InviteExpiresAt: &expires,
		})
	}
	a, b := pending("tok-a"), pending("tok-b")

	ok, err := s.Activate(ctx, a.ID, admin, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Activate(ctx, b.ID, admin, time.Now())
	assert.False(t, ok)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	g, err := s.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantPending, g.Status)
}
