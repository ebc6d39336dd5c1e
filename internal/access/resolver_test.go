package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	channels *memory.ChannelStore
	grants   *memory.PermissionStore
	resolver *Resolver
	owner    uuid.UUID
	admin    uuid.UUID
	channel  *models.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		channels: memory.NewChannelStore(),
		grants:   memory.NewPermissionStore(),
		owner:    uuid.New(),
		admin:    uuid.New(),
	}
	f.resolver = NewResolver(f.channels, f.grants)
	ch, err := f.channels.Create(context.Background(), &models.Channel{OwnerID: f.owner, Name: "shop"})
	require.NoError(t, err)
	f.channel = ch
	return f
}

func (f *fixture) grant(channelID *uuid.UUID, caps models.Capabilities) models.PermissionGrant {
	admin := f.admin
	return f.grants.Insert(models.PermissionGrant{
		OwnerID:     f.owner,
		AdminID:     &admin,
		ChannelID:   channelID,
		Permissions: caps,
		Status:      models.GrantActive,
	})
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	t.Run("owner holds every capability", func(t *testing.T) {
		f := newFixture(t)
		for _, c := range []Capability{CapReply, CapBroadcast, CapManageTags, CapManageChannel, CapViewAll, CapView, CapOwner} {
			g, err := f.resolver.Authorize(ctx, f.owner, f.channel.ID, c)
			require.NoError(t, err, c)
			assert.True(t, g.IsOwner)
		}
	})

	t.Run("no grant is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapView)
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("unknown channel is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Authorize(ctx, f.owner, uuid.New(), CapView)
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("scoped grant", func(t *testing.T) {
		f := newFixture(t)
		f.grant(&f.channel.ID, models.Capabilities{CanReply: true})

		g, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapReply)
		require.NoError(t, err)
		assert.False(t, g.IsOwner)
		assert.False(t, g.CanViewAll())

		_, err = f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapBroadcast)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("unscoped grant covers every channel of the owner", func(t *testing.T) {
		f := newFixture(t)
		other, err := f.channels.Create(ctx, &models.Channel{OwnerID: f.owner, Name: "second"})
		require.NoError(t, err)
		f.grant(nil, models.Capabilities{CanBroadcast: true})

		_, err = f.resolver.Authorize(ctx, f.admin, other.ID, CapBroadcast)
		assert.NoError(t, err)
	})

	t.Run("unscoped grant of another owner does not apply", func(t *testing.T) {
		f := newFixture(t)
		admin := f.admin
		f.grants.Insert(models.PermissionGrant{
			OwnerID:     uuid.New(),
			AdminID:     &admin,
			Permissions: models.AllCapabilities(),
			Status:      models.GrantActive,
		})
		_, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapReply)
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("capabilities are the union of grants", func(t *testing.T) {
		f := newFixture(t)
		f.grant(nil, models.Capabilities{CanReply: true})
		f.grant(&f.channel.ID, models.Capabilities{CanManageTags: true})

		for _, c := range []Capability{CapReply, CapManageTags} {
			_, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, c)
			assert.NoError(t, err, c)
		}
		_, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapBroadcast)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("pending and revoked grants are ignored", func(t *testing.T) {
		f := newFixture(t)
		g := f.grant(&f.channel.ID, models.AllCapabilities())
		_, err := f.grants.Update(ctx, g.ID, models.GrantRevoked, g.Permissions)
		require.NoError(t, err)

		_, err = f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapReply)
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("admins are never the owner", func(t *testing.T) {
		f := newFixture(t)
		f.grant(nil, models.AllCapabilities())
		_, err := f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapOwner)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})
}

func TestAuthorizeWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.grant(&f.channel.ID, models.Capabilities{CanReply: true, CanBroadcast: true})

	_, err := f.resolver.AuthorizeWrite(ctx, f.admin, f.channel.ID, CapBroadcast)
	require.NoError(t, err)

	require.NoError(t, f.channels.UpdateStatus(ctx, f.channel.ID, models.ChannelInactive))

	_, err = f.resolver.AuthorizeWrite(ctx, f.owner, f.channel.ID, CapBroadcast)
	assert.ErrorIs(t, err, apperr.ErrChannelDisabled)
	_, err = f.resolver.AuthorizeWrite(ctx, f.admin, f.channel.ID, CapReply)
	assert.ErrorIs(t, err, apperr.ErrChannelDisabled)

	// Reads still resolve.
	_, err = f.resolver.Authorize(ctx, f.admin, f.channel.ID, CapView)
	assert.NoError(t, err)
}

func TestAuthorizeOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.resolver.AuthorizeOwner(ctx, f.owner, f.owner, CapManageTags)
	require.NoError(t, err)

	_, err = f.resolver.AuthorizeOwner(ctx, f.admin, f.owner, CapView)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	f.grant(&f.channel.ID, models.Capabilities{CanManageTags: true})
	caps, err := f.resolver.AuthorizeOwner(ctx, f.admin, f.owner, CapManageTags)
	require.NoError(t, err)
	assert.True(t, caps.CanManageTags)

	_, err = f.resolver.AuthorizeOwner(ctx, f.admin, f.owner, CapManageChannel)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestAccessibleChannels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// The admin owns a channel too.
	own, err := f.channels.Create(ctx, &models.Channel{OwnerID: f.admin, Name: "mine"})
	require.NoError(t, err)

	// A third owner shares a single channel.
	thirdOwner := uuid.New()
	shared, err := f.channels.Create(ctx, &models.Channel{OwnerID: thirdOwner, Name: "shared"})
	_, err2 := f.channels.Create(ctx, &models.Channel{OwnerID: thirdOwner, Name: "hidden"})
	require.NoError(t, err)
	require.NoError(t, err2)
	admin := f.admin
	f.grants.Insert(models.PermissionGrant{
		OwnerID:     thirdOwner,
		AdminID:     &admin,
		ChannelID:   &shared.ID,
		Permissions: models.Capabilities{CanReply: true},
		Status:      models.GrantActive,
	})

	// The fixture owner shares everything, plus broadcast on one channel.
	f.grant(nil, models.Capabilities{CanViewAll: true})
	f.grant(&f.channel.ID, models.Capabilities{CanBroadcast: true})

	list, err := f.resolver.AccessibleChannels(ctx, f.admin)
	require.NoError(t, err)

	byID := make(map[uuid.UUID]ChannelAccess)
	for _, a := range list {
		byID[a.Channel.ID] = a
	}
	require.Len(t, byID, 3)

	assert.True(t, byID[own.ID].IsOwner)
	assert.Equal(t, models.AllCapabilities(), byID[own.ID].Capabilities)
	assert.Equal(t, models.Capabilities{CanViewAll: true, CanBroadcast: true}, byID[f.channel.ID].Capabilities)
	assert.Equal(t, models.Capabilities{CanReply: true}, byID[shared.ID].Capabilities)

	owners, err := f.resolver.AccessibleOwnerIDs(ctx, f.admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.admin, f.owner, thirdOwner}, owners)
}
