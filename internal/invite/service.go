// Package invite runs the team invitation lifecycle: an owner invites an
// email, the invitee previews and accepts (or claims a fresh account and
// accepts), and the owner manages the resulting grants.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/mailer"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tokenBytes = 32

// AllChannels is shown in place of a channel name for unscoped grants.
const AllChannels = "all channels"

type Config struct {
	// BaseURL is the web app origin used to build accept links.
	BaseURL string
	TTL     time.Duration
}

type Service struct {
	users    repository.UserRepository
	channels repository.ChannelRepository
	grants   repository.PermissionRepository
	mailer   mailer.Mailer
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(
	users repository.UserRepository,
	channels repository.ChannelRepository,
	grants repository.PermissionRepository,
	m mailer.Mailer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:    users,
		channels: channels,
		grants:   grants,
		mailer:   m,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("linedesk/invite"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	Email       string              `json:"email"`
	ChannelID   *uuid.UUID          `json:"channel_id"`
	Permissions models.Capabilities `json:"permissions"`
}

// Invitation is a freshly created pending grant and the link mailed for it.
type Invitation struct {
	Grant     *models.PermissionGrant `json:"invitation"`
	AcceptURL string                  `json:"accept_url"`
}

// Preview is what the invitee sees before accepting.
type Preview struct {
	OwnerName   string              `json:"owner_name"`
	ChannelID   *uuid.UUID          `json:"channel_id"`
	ChannelName string              `json:"channel_name"`
	Permissions models.Capabilities `json:"permissions"`
	InviteEmail string              `json:"invite_email"`
	ExpiresAt   *time.Time          `json:"expires_at"`
	// NeedsAccount is true when the invitee has no usable login yet and
	// must claim the account before accepting.
	NeedsAccount bool `json:"needs_account"`
}

// Member is a grant joined with display names for the team pages.
type Member struct {
	models.PermissionGrant
	OwnerName   string `json:"owner_name"`
	AdminName   string `json:"admin_name"`
	AdminEmail  string `json:"admin_email"`
	ChannelName string `json:"channel_name"`
}

type UpdateInput struct {
	Status      string               `json:"status"`
	Permissions *models.Capabilities `json:"permissions"`
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.InvalidArg("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.InvalidArg("email is invalid")
	}
	return email, nil
}

func (s *Service) acceptURL(token string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/invite/" + token
}

// Create invites email to the owner's channels (or one channel).
//
// An email without an account gets a pending admin account with no
// password. The grant is bound to that account id, so the token only works
// for the invited address. Mail failures are logged and the grant is kept.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, in CreateInput) (*Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invite.Create", trace.WithAttributes(
		attribute.String("owner.id", ownerID.String()),
	))
	defer span.End()

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	if owner == nil {
		return nil, apperr.ErrUnauthorized
	}
	if owner.Role != models.RoleOwner {
		return nil, apperr.ErrPermissionDenied
	}
	if owner.Email == email {
		return nil, apperr.ErrSelfInvite
	}

	channelName := AllChannels
	if in.ChannelID != nil {
		ch, err := s.channels.GetByID(ctx, *in.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("get channel: %w", err)
		}
		if ch == nil || ch.OwnerID != ownerID {
			return nil, apperr.ErrChannelNotFound
		}
		channelName = ch.Name
	}

	invitee, err := s.resolveInvitee(ctx, email)
	if err != nil {
		return nil, err
	}

	active, err := s.grants.FindActive(ctx, ownerID, invitee.ID, in.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("find active grant: %w", err)
	}
	if active != nil {
		return nil, apperr.ErrAlreadyMember
	}
	pending, err := s.grants.FindPendingForEmail(ctx, ownerID, email, in.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("find pending grant: %w", err)
	}
	if pending != nil {
		if !s.expired(pending) {
			return nil, apperr.ErrAlreadyInvited
		}
		// A lapsed invite is replaced by the new one.
		if err := s.grants.Delete(ctx, pending.ID); err != nil {
			return nil, fmt.Errorf("delete expired invite: %w", err)
		}
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expires := s.now().Add(s.cfg.TTL)
	adminID := invitee.ID
	g, err := s.grants.CreatePending(ctx, &models.PermissionGrant{
		OwnerID:         ownerID,
		AdminID:         &adminID,
		ChannelID:       in.ChannelID,
		Permissions:     in.Permissions,
		InviteEmail:     email,
		InviteToken:     token,
		InviteExpiresAt: &expires,
	})
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}

	link := s.acceptURL(token)
	msg := mailer.Mail{
		To:      email,
		Subject: fmt.Sprintf("%s invited you to their team", owner.Name),
		Body: fmt.Sprintf("%s invited you to help manage %s.\n\nOpen this link to accept:\n%s\n\nThe invitation expires on %s.\n",
			owner.Name, channelName, link, expires.Format(time.RFC1123)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("invite email not delivered",
			zap.String("grant_id", g.ID.String()),
			zap.String("email", email),
			zap.Error(err),
		)
	}

	s.logger.Info("invitation created",
		zap.String("grant_id", g.ID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return &Invitation{Grant: g, AcceptURL: link}, nil
}

func (s *Service) resolveInvitee(ctx context.Context, email string) (*models.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get invitee: %w", err)
	}
	if u != nil {
		return u, nil
	}
	u, err = s.users.Create(ctx, &models.User{
		Email:  email,
		Role:   models.RoleAdmin,
		Status: models.UserPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create pending user: %w", err)
	}
	return u, nil
}

func (s *Service) expired(g *models.PermissionGrant) bool {
	return g.InviteExpiresAt != nil && !s.now().Before(*g.InviteExpiresAt)
}

// pending loads an acceptable invitation by token.
func (s *Service) pending(ctx context.Context, token string) (*models.PermissionGrant, error) {
	g, err := s.grants.GetPendingByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}
	if g == nil {
		return nil, apperr.ErrInviteNotFound
	}
	if s.expired(g) {
		return nil, apperr.ErrInviteExpired
	}
	return g, nil
}

func (s *Service) Preview(ctx context.Context, token string) (*Preview, error) {
	g, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	p := &Preview{
		ChannelID:   g.ChannelID,
		ChannelName: AllChannels,
		Permissions: g.Permissions,
		InviteEmail: g.InviteEmail,
		ExpiresAt:   g.InviteExpiresAt,
	}
	owner, err := s.users.GetByID(ctx, g.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	if owner != nil {
		p.OwnerName = owner.Name
	}
	if g.ChannelID != nil {
		ch, err := s.channels.GetByID(ctx, *g.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("get channel: %w", err)
		}
		if ch != nil {
			p.ChannelName = ch.Name
		}
	}
	if g.AdminID != nil {
		invitee, err := s.users.GetByID(ctx, *g.AdminID)
		if err != nil {
			return nil, fmt.Errorf("get invitee: %w", err)
		}
		p.NeedsAccount = invitee != nil && invitee.Status == models.UserPending
	}
	return p, nil
}

// Accept binds the invitation to userID and activates it.
//
// When the user already holds an active grant for the same scope, the
// pending row is deleted and Conflict is returned.
func (s *Service) Accept(ctx context.Context, userID uuid.UUID, token string) (*models.PermissionGrant, error) {
	ctx, span := s.tracer.Start(ctx, "invite.Accept", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	g, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	if g.OwnerID == userID {
		return nil, apperr.ErrSelfInvite
	}
	if g.AdminID != nil && *g.AdminID != userID {
		return nil, apperr.ErrInviteBoundToUser
	}

	dup, err := s.grants.FindActive(ctx, g.OwnerID, userID, g.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("find active grant: %w", err)
	}
	if dup != nil {
		if err := s.grants.Delete(ctx, g.ID); err != nil {
			s.logger.Warn("delete duplicate invite", zap.String("grant_id", g.ID.String()), zap.Error(err))
		}
		return nil, apperr.ErrAlreadyMember
	}

	ok, err := s.grants.Activate(ctx, g.ID, userID, s.now())
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost a race with another accept for the same scope.
		if err := s.grants.Delete(ctx, g.ID); err != nil {
			s.logger.Warn("delete duplicate invite", zap.String("grant_id", g.ID.String()), zap.Error(err))
		}
		return nil, apperr.ErrAlreadyMember
	}
	if err != nil {
		return nil, fmt.Errorf("activate grant: %w", err)
	}
	if !ok {
		return nil, apperr.ErrInviteNotFound
	}

	s.logger.Info("invitation accepted",
		zap.String("grant_id", g.ID.String()),
		zap.String("admin_id", userID.String()),
	)
	return s.grants.GetByID(ctx, g.ID)
}

// Register claims the pending account an invitation created, sets its
// name and password, and accepts the invitation with it.
func (s *Service) Register(ctx context.Context, token, name, password string) (*models.User, *models.PermissionGrant, error) {
	ctx, span := s.tracer.Start(ctx, "invite.Register")
	defer span.End()

	g, err := s.pending(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, apperr.InvalidArg("name is required")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, nil, apperr.InvalidArg(err.Error())
	}

	var invitee *models.User
	if g.AdminID != nil {
		invitee, err = s.users.GetByID(ctx, *g.AdminID)
	} else {
		invitee, err = s.users.GetByEmail(ctx, g.InviteEmail)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get invitee: %w", err)
	}
	if invitee == nil || invitee.Status != models.UserPending || invitee.PasswordHash != "" {
		// Existing accounts log in and accept instead.
		return nil, nil, apperr.ErrEmailTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.Activate(ctx, invitee.ID, name, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("activate user: %w", err)
	}
	if user == nil {
		return nil, nil, apperr.ErrEmailTaken
	}

	grant, err := s.Accept(ctx, user.ID, token)
	if err != nil {
		return nil, nil, err
	}
	return user, grant, nil
}

// Cancel deletes a pending invitation. Only its owner may do so.
func (s *Service) Cancel(ctx context.Context, ownerID uuid.UUID, token string) error {
	g, err := s.grants.GetPendingByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("get invite: %w", err)
	}
	if g == nil {
		return apperr.ErrInviteNotFound
	}
	if g.OwnerID != ownerID {
		return apperr.ErrPermissionDenied
	}
	if err := s.grants.Delete(ctx, g.ID); err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, ownerID uuid.UUID) ([]Member, error) {
	grants, err := s.grants.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return s.decorate(ctx, grants)
}

// ListMyGrants returns the active grants other owners gave userID.
func (s *Service) ListMyGrants(ctx context.Context, userID uuid.UUID) ([]Member, error) {
	grants, err := s.grants.ListActiveByAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared: %w", err)
	}
	return s.decorate(ctx, grants)
}

func (s *Service) decorate(ctx context.Context, grants []models.PermissionGrant) ([]Member, error) {
	userIDs := make([]uuid.UUID, 0, len(grants)*2)
	channelIDs := make([]uuid.UUID, 0, len(grants))
	for _, g := range grants {
		userIDs = append(userIDs, g.OwnerID)
		if g.AdminID != nil {
			userIDs = append(userIDs, *g.AdminID)
		}
		if g.ChannelID != nil {
			channelIDs = append(channelIDs, *g.ChannelID)
		}
	}

	users := make(map[uuid.UUID]models.User)
	if len(userIDs) > 0 {
		list, err := s.users.GetByIDs(ctx, userIDs)
		if err != nil {
			return nil, fmt.Errorf("get users: %w", err)
		}
		for _, u := range list {
			users[u.ID] = u
		}
	}
	channels := make(map[uuid.UUID]string)
	if len(channelIDs) > 0 {
		list, err := s.channels.GetByIDs(ctx, channelIDs)
		if err != nil {
			return nil, fmt.Errorf("get channels: %w", err)
		}
		for _, ch := range list {
			channels[ch.ID] = ch.Name
		}
	}

	out := make([]Member, 0, len(grants))
	for _, g := range grants {
		m := Member{PermissionGrant: g, OwnerName: users[g.OwnerID].Name, ChannelName: AllChannels, AdminEmail: g.InviteEmail}
		if g.AdminID != nil {
			if u, ok := users[*g.AdminID]; ok {
				m.AdminName = u.Name
				m.AdminEmail = u.Email
			}
		}
		if g.ChannelID != nil {
			m.ChannelName = channels[*g.ChannelID]
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) ownedGrant(ctx context.Context, ownerID, grantID uuid.UUID) (*models.PermissionGrant, error) {
	g, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	if g == nil || g.OwnerID != ownerID {
		return nil, apperr.ErrMemberNotFound
	}
	return g, nil
}

// UpdateMember rewrites status and capabilities. Any status may move to
// any other; only a second active grant for the same scope is refused.
func (s *Service) UpdateMember(ctx context.Context, ownerID, grantID uuid.UUID, in UpdateInput) (*models.PermissionGrant, error) {
	g, err := s.ownedGrant(ctx, ownerID, grantID)
	if err != nil {
		return nil, err
	}
	status := g.Status
	if in.Status != "" {
		switch in.Status {
		case models.GrantPending, models.GrantActive, models.GrantRevoked:
			status = in.Status
		default:
			return nil, apperr.InvalidArg("status must be pending, active or revoked")
		}
	}
	perms := g.Permissions
	if in.Permissions != nil {
		perms = *in.Permissions
	}

	if status == models.GrantActive && g.Status != models.GrantActive && g.AdminID != nil {
		dup, err := s.grants.FindActive(ctx, g.OwnerID, *g.AdminID, g.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("find active grant: %w", err)
		}
		if dup != nil {
			return nil, apperr.ErrAlreadyMember
		}
	}

	updated, err := s.grants.Update(ctx, g.ID, status, perms)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperr.ErrAlreadyMember
	}
	if err != nil {
		return nil, fmt.Errorf("update grant: %w", err)
	}
	if updated == nil {
		return nil, apperr.ErrMemberNotFound
	}
	return updated, nil
}

func (s *Service) RemoveMember(ctx context.Context, ownerID, grantID uuid.UUID) error {
	g, err := s.ownedGrant(ctx, ownerID, grantID)
	if err != nil {
		return err
	}
	if err := s.grants.Delete(ctx, g.ID); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}
