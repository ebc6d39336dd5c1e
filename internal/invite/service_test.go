package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/mailer"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Mail
	err  error
}

func (o *outbox) Send(_ context.Context, m mailer.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, m)
	return nil
}

type fixture struct {
	svc      *Service
	users    *memory.UserStore
	channels *memory.ChannelStore
	grants   *memory.PermissionStore
	mail     *outbox
	resolver *access.Resolver
	owner    *models.User
	channel  *models.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		users:    memory.NewUserStore(),
		channels: memory.NewChannelStore(),
		grants:   memory.NewPermissionStore(),
		mail:     &outbox{},
	}
	f.svc = NewService(f.users, f.channels, f.grants, f.mail,
		Config{BaseURL: "https://app.example.com/", TTL: 7 * 24 * time.Hour}, zap.NewNop())
	f.resolver = access.NewResolver(f.channels, f.grants)

	owner, err := f.users.Create(ctx, &models.User{Email: "owner@example.com", Name: "Olive", Role: models.RoleOwner, Status: models.UserActive})
	require.NoError(t, err)
	f.owner = owner
	ch, err := f.channels.Create(ctx, &models.Channel{OwnerID: owner.ID, Name: "Bakery"})
	require.NoError(t, err)
	f.channel = ch
	return f
}

func (f *fixture) activeUser(t *testing.T, email string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	u, err := f.users.Create(context.Background(), &models.User{
		Email: email, Name: "Ada", Role: models.RoleAdmin, Status: models.UserActive, PasswordHash: hash,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) invite(t *testing.T, email string, caps models.Capabilities) *Invitation {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), f.owner.ID, CreateInput{
		Email:       email,
		ChannelID:   &f.channel.ID,
		Permissions: caps,
	})
	require.NoError(t, err)
	return inv
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email gets a pending account", func(t *testing.T) {
		f := newFixture(t)
		inv := f.invite(t, "  New@Example.com ", models.Capabilities{CanReply: true})

		assert.Equal(t, models.GrantPending, inv.Grant.Status)
		assert.Equal(t, "new@example.com", inv.Grant.InviteEmail)
		assert.Len(t, inv.Grant.InviteToken, 64)
		require.NotNil(t, inv.Grant.InviteExpiresAt)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), *inv.Grant.InviteExpiresAt, time.Minute)
		assert.Equal(t, "https://app.example.com/invite/"+inv.Grant.InviteToken, inv.AcceptURL)

		u, err := f.users.GetByEmail(ctx, "new@example.com")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, models.UserPending, u.Status)
		assert.Equal(t, models.RoleAdmin, u.Role)
		assert.Empty(t, u.PasswordHash)
		require.NotNil(t, inv.Grant.AdminID)
		assert.Equal(t, u.ID, *inv.Grant.AdminID)

		require.Len(t, f.mail.sent, 1)
		assert.Equal(t, "new@example.com", f.mail.sent[0].To)
		assert.Contains(t, f.mail.sent[0].Body, inv.AcceptURL)
		assert.Contains(t, f.mail.sent[0].Body, "Bakery")
	})

	t.Run("mail failure keeps the grant", func(t *testing.T) {
		f := newFixture(t)
		f.mail.err = errors.New("smtp down")
		inv := f.invite(t, "new@example.com", models.Capabilities{})

		g, err := f.grants.GetPendingByToken(ctx, inv.Grant.InviteToken)
		require.NoError(t, err)
		assert.NotNil(t, g)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		for _, email := range []string{"", "not-an-email", "a@b@c"} {
			_, err := f.svc.Create(ctx, f.owner.ID, CreateInput{Email: email})
			assert.Equal(t, 400, apperr.HTTPStatus(err), email)
		}
	})

	t.Run("self invite", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, f.owner.ID, CreateInput{Email: "OWNER@example.com"})
		assert.ErrorIs(t, err, apperr.ErrSelfInvite)
	})

	t.Run("channel of another owner", func(t *testing.T) {
		f := newFixture(t)
		other, err := f.channels.Create(ctx, &models.Channel{OwnerID: uuid.New(), Name: "theirs"})
		require.NoError(t, err)
		_, err = f.svc.Create(ctx, f.owner.ID, CreateInput{Email: "x@example.com", ChannelID: &other.ID})
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("admins cannot invite", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		_, err := f.svc.Create(ctx, admin.ID, CreateInput{Email: "x@example.com"})
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("duplicate pending invite", func(t *testing.T) {
		f := newFixture(t)
		f.invite(t, "new@example.com", models.Capabilities{})
		_, err := f.svc.Create(ctx, f.owner.ID, CreateInput{Email: "new@example.com", ChannelID: &f.channel.ID})
		assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)
		assert.Equal(t, "this email already invited", apperr.PublicMessage(err))

		// A different scope is a different grant.
		_, err = f.svc.Create(ctx, f.owner.ID, CreateInput{Email: "new@example.com"})
		assert.NoError(t, err)
	})

	t.Run("expired pending invite is replaced", func(t *testing.T) {
		f := newFixture(t)
		old := f.invite(t, "new@example.com", models.Capabilities{})
		f.svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

		fresh := f.invite(t, "new@example.com", models.Capabilities{})
		assert.NotEqual(t, old.Grant.ID, fresh.Grant.ID)
		g, err := f.grants.GetByID(ctx, old.Grant.ID)
		require.NoError(t, err)
		assert.Nil(t, g)
	})

	t.Run("already a member", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		inv := f.invite(t, admin.Email, models.Capabilities{CanReply: true})
		_, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, f.owner.ID, CreateInput{Email: admin.Email, ChannelID: &f.channel.ID})
		assert.ErrorIs(t, err, apperr.ErrAlreadyMember)
	})
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.invite(t, "new@example.com", models.Capabilities{CanReply: true})

	p, err := f.svc.Preview(ctx, inv.Grant.InviteToken)
	require.NoError(t, err)
	assert.Equal(t, "Olive", p.OwnerName)
	assert.Equal(t, "Bakery", p.ChannelName)
	assert.True(t, p.Permissions.CanReply)
	assert.True(t, p.NeedsAccount)

	_, err = f.svc.Preview(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)

	f.svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = f.svc.Preview(ctx, inv.Grant.InviteToken)
	assert.ErrorIs(t, err, apperr.ErrInviteExpired)
	assert.Equal(t, 410, apperr.HTTPStatus(err))
}

func TestAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("grants the invited capabilities", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		inv := f.invite(t, admin.Email, models.Capabilities{CanReply: true})

		g, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		require.NoError(t, err)
		assert.Equal(t, models.GrantActive, g.Status)
		assert.Empty(t, g.InviteToken)
		assert.NotNil(t, g.AcceptedAt)

		_, err = f.resolver.Authorize(ctx, admin.ID, f.channel.ID, access.CapReply)
		assert.NoError(t, err)
		_, err = f.resolver.Authorize(ctx, admin.ID, f.channel.ID, access.CapBroadcast)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("second accept fails", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		inv := f.invite(t, admin.Email, models.Capabilities{})
		_, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		assert.ErrorIs(t, err, apperr.ErrInviteNotFound)
	})

	t.Run("owner cannot accept", func(t *testing.T) {
		f := newFixture(t)
		expires := time.Now().Add(time.Hour)
		g := f.grants.Insert(models.PermissionGrant{
			OwnerID:         f.owner.ID,
			Status:          models.GrantPending,
			InviteEmail:     "someone@example.com",
			InviteToken:     "tok-owner",
			InviteExpiresAt: &expires,
		})
		_, err := f.svc.Accept(ctx, f.owner.ID, g.InviteToken)
		assert.ErrorIs(t, err, apperr.ErrSelfInvite)
		assert.Equal(t, 403, apperr.HTTPStatus(err))
	})

	t.Run("bound to another account", func(t *testing.T) {
		f := newFixture(t)
		invitee := f.activeUser(t, "admin@example.com")
		intruder := f.activeUser(t, "intruder@example.com")
		inv := f.invite(t, invitee.Email, models.Capabilities{})

		_, err := f.svc.Accept(ctx, intruder.ID, inv.Grant.InviteToken)
		assert.ErrorIs(t, err, apperr.ErrInviteBoundToUser)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		inv := f.invite(t, admin.Email, models.Capabilities{})
		f.svc.now = func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }

		_, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		assert.ErrorIs(t, err, apperr.ErrInviteExpired)
	})

	t.Run("duplicate active grant deletes the pending row", func(t *testing.T) {
		f := newFixture(t)
		admin := f.activeUser(t, "admin@example.com")
		adminID := admin.ID
		f.grants.Insert(models.PermissionGrant{
			OwnerID:   f.owner.ID,
			AdminID:   &adminID,
			ChannelID: &f.channel.ID,
			Status:    models.GrantActive,
		})
		expires := time.Now().Add(time.Hour)
		pending := f.grants.Insert(models.PermissionGrant{
			OwnerID:         f.owner.ID,
			AdminID:         &adminID,
			ChannelID:       &f.channel.ID,
			Status:          models.GrantPending,
			InviteToken:     "tok-dup",
			InviteExpiresAt: &expires,
		})

		_, err := f.svc.Accept(ctx, admin.ID, "tok-dup")
		assert.ErrorIs(t, err, apperr.ErrAlreadyMember)

		g, err := f.grants.GetByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Nil(t, g)
	})

	t.Run("activate hitting the unique index is already member", func(t *testing.T) {
		f := newFixture(t)
		// The duplicate only shows up at Activate, as when two accepts
		// for the same scope pass FindActive together.
		f.svc.grants = staleLookup{f.grants}
		admin := f.activeUser(t, "admin@example.com")
		adminID := admin.ID
		f.grants.Insert(models.PermissionGrant{
			OwnerID:   f.owner.ID,
			AdminID:   &adminID,
			ChannelID: &f.channel.ID,
			Status:    models.GrantActive,
		})
		inv := f.invite(t, admin.Email, models.Capabilities{})

		_, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
		assert.ErrorIs(t, err, apperr.ErrAlreadyMember)
		assert.Equal(t, 400, apperr.HTTPStatus(err))

		g, err := f.grants.GetByID(ctx, inv.Grant.ID)
		require.NoError(t, err)
		assert.Nil(t, g)
	})
}

// staleLookup never sees an active grant, leaving the store's unique
// check as the only guard.
type staleLookup struct {
	*memory.PermissionStore
}

func (staleLookup) FindActive(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) (*models.PermissionGrant, error) {
	return nil, nil
}

func TestRegisterClaimsPendingAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.invite(t, "new@example.com", models.Capabilities{CanReply: true})

	_, _, err := f.svc.Register(ctx, inv.Grant.InviteToken, "Nia", "short")
	assert.Equal(t, 400, apperr.HTTPStatus(err))
	_, _, err = f.svc.Register(ctx, inv.Grant.InviteToken, " ", "long enough pw")
	assert.Equal(t, 400, apperr.HTTPStatus(err))

	user, grant, err := f.svc.Register(ctx, inv.Grant.InviteToken, "Nia", "long enough pw")
	require.NoError(t, err)
	assert.Equal(t, models.UserActive, user.Status)
	assert.Equal(t, "Nia", user.Name)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "long enough pw"))
	assert.Equal(t, models.GrantActive, grant.Status)
	assert.Equal(t, user.ID, *grant.AdminID)

	_, _, err = f.svc.Register(ctx, inv.Grant.InviteToken, "Nia", "long enough pw")
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)
}

func TestRegisterRefusesExistingAccount(t *testing.T) {
	f := newFixture(t)
	admin := f.activeUser(t, "admin@example.com")
	inv := f.invite(t, admin.Email, models.Capabilities{})

	_, _, err := f.svc.Register(context.Background(), inv.Grant.InviteToken, "Ada", "long enough pw")
	assert.ErrorIs(t, err, apperr.ErrEmailTaken)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.invite(t, "new@example.com", models.Capabilities{})

	err := f.svc.Cancel(ctx, uuid.New(), inv.Grant.InviteToken)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	require.NoError(t, f.svc.Cancel(ctx, f.owner.ID, inv.Grant.InviteToken))
	_, err = f.svc.Preview(ctx, inv.Grant.InviteToken)
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)

	err = f.svc.Cancel(ctx, f.owner.ID, inv.Grant.InviteToken)
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.activeUser(t, "admin@example.com")
	inv := f.invite(t, admin.Email, models.Capabilities{CanReply: true})
	g, err := f.svc.Accept(ctx, admin.ID, inv.Grant.InviteToken)
	require.NoError(t, err)
	f.invite(t, "later@example.com", models.Capabilities{})

	members, err := f.svc.ListMembers(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	var found bool
	for _, m := range members {
		if m.ID == g.ID {
			found = true
			assert.Equal(t, "Ada", m.AdminName)
			assert.Equal(t, "admin@example.com", m.AdminEmail)
			assert.Equal(t, "Bakery", m.ChannelName)
		}
	}
	assert.True(t, found)

	shared, err := f.svc.ListMyGrants(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "Olive", shared[0].OwnerName)

	t.Run("revoke takes effect immediately", func(t *testing.T) {
		updated, err := f.svc.UpdateMember(ctx, f.owner.ID, g.ID, UpdateInput{Status: models.GrantRevoked})
		require.NoError(t, err)
		assert.Equal(t, models.GrantRevoked, updated.Status)
		assert.True(t, updated.Permissions.CanReply)

		_, err = f.resolver.Authorize(ctx, admin.ID, f.channel.ID, access.CapReply)
		assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	})

	t.Run("status can move backwards", func(t *testing.T) {
		caps := models.Capabilities{CanBroadcast: true}
		updated, err := f.svc.UpdateMember(ctx, f.owner.ID, g.ID, UpdateInput{Status: models.GrantActive, Permissions: &caps})
		require.NoError(t, err)
		assert.Equal(t, models.GrantActive, updated.Status)
		assert.False(t, updated.Permissions.CanReply)
		assert.True(t, updated.Permissions.CanBroadcast)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := f.svc.UpdateMember(ctx, f.owner.ID, g.ID, UpdateInput{Status: "deleted"})
		assert.Equal(t, 400, apperr.HTTPStatus(err))
	})

	t.Run("other owners see not found", func(t *testing.T) {
		_, err := f.svc.UpdateMember(ctx, uuid.New(), g.ID, UpdateInput{Status: models.GrantRevoked})
		assert.ErrorIs(t, err, apperr.ErrMemberNotFound)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, uuid.New(), g.ID), apperr.ErrMemberNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, f.svc.RemoveMember(ctx, f.owner.ID, g.ID))
		shared, err := f.svc.ListMyGrants(ctx, admin.ID)
		require.NoError(t, err)
		assert.Empty(t, shared)
	})
}

func TestNewTokenIsRandomHex(t *testing.T) {
	a, err := newToken()
	require.NoError(t, err)
	b, err := newToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, strings.ToLower(a), a)
}
