// Package access decides what a user may do on a channel or on an owner's
// shared resources.
//
// An owner holds every capability on their own channels. Anyone else acts
// through permission grants, and what they may do is the union of every
// active grant that covers the target. Nothing is cached: each check reads
// the current grants so a revocation takes effect on the next request.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Capability names one class of action.
type Capability string

const (
	CapReply         Capability = "can_reply"
	CapViewAll       Capability = "can_view_all"
	CapBroadcast     Capability = "can_broadcast"
	CapManageTags    Capability = "can_manage_tags"
	CapManageChannel Capability = "can_manage_channel"
	// CapView is held by anyone with at least one active grant.
	CapView Capability = "view"
	// CapOwner is held only by the owner.
	CapOwner Capability = "is_owner"
)

// Has reports whether caps includes c.
func Has(caps models.Capabilities, c Capability) bool {
	switch c {
	case CapReply:
		return caps.CanReply
	case CapViewAll:
		return caps.CanViewAll
	case CapBroadcast:
		return caps.CanBroadcast
	case CapManageTags:
		return caps.CanManageTags
	case CapManageChannel:
		return caps.CanManageChannel
	case CapView:
		return true
	}
	return false
}

// Grant is the outcome of a successful check.
type Grant struct {
	Channel      *models.Channel
	Capabilities models.Capabilities
	IsOwner      bool
}

// CanViewAll reports whether the caller sees every conversation of the
// channel, not only the ones assigned to them.
func (g *Grant) CanViewAll() bool {
	return g.IsOwner || g.Capabilities.CanViewAll
}

// ChannelAccess is one entry of AccessibleChannels.
type ChannelAccess struct {
	Channel      models.Channel      `json:"channel"`
	Capabilities models.Capabilities `json:"permissions"`
	IsOwner      bool                `json:"is_owner"`
}

type Resolver struct {
	channels    repository.ChannelRepository
	permissions repository.PermissionRepository
	tracer      trace.Tracer
}

func NewResolver(channels repository.ChannelRepository, permissions repository.PermissionRepository) *Resolver {
	return &Resolver{
		channels:    channels,
		permissions: permissions,
		tracer:      otel.Tracer("linedesk/access"),
	}
}

func (r *Resolver) start(ctx context.Context, name string, userID uuid.UUID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("user.id", userID.String()))
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Authorize checks cap for userID on a channel and returns the channel.
//
// A user with no grant covering the channel gets NotFound, so channel
// existence is not leaked. A user with grants lacking the flag gets
// Forbidden.
func (r *Resolver) Authorize(ctx context.Context, userID, channelID uuid.UUID, c Capability) (*Grant, error) {
	ctx, span := r.start(ctx, "access.Authorize", userID,
		attribute.String("channel.id", channelID.String()),
		attribute.String("capability", string(c)))
	defer span.End()

	ch, err := r.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if ch == nil {
		return nil, apperr.ErrChannelNotFound
	}
	if ch.OwnerID == userID {
		return &Grant{Channel: ch, Capabilities: models.AllCapabilities(), IsOwner: true}, nil
	}

	grants, err := r.permissions.ListActiveForChannel(ctx, userID, ch.ID, ch.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if len(grants) == 0 {
		return nil, apperr.ErrChannelNotFound
	}
	caps := union(grants)
	if !Has(caps, c) {
		return nil, apperr.ErrPermissionDenied
	}
	return &Grant{Channel: ch, Capabilities: caps}, nil
}

// AuthorizeWrite is Authorize for actions that write through the channel.
// An inactive channel refuses them for everyone, the owner included.
func (r *Resolver) AuthorizeWrite(ctx context.Context, userID, channelID uuid.UUID, c Capability) (*Grant, error) {
	g, err := r.Authorize(ctx, userID, channelID, c)
	if err != nil {
		return nil, err
	}
	if !g.Channel.IsActive() {
		return nil, apperr.ErrChannelDisabled
	}
	return g, nil
}

// AuthorizeOwner checks cap on resources that belong to an owner rather
// than a channel (tags, quick replies). Grants of every scope count.
func (r *Resolver) AuthorizeOwner(ctx context.Context, userID, ownerID uuid.UUID, c Capability) (models.Capabilities, error) {
	ctx, span := r.start(ctx, "access.AuthorizeOwner", userID,
		attribute.String("owner.id", ownerID.String()),
		attribute.String("capability", string(c)))
	defer span.End()

	if userID == ownerID {
		return models.AllCapabilities(), nil
	}
	grants, err := r.permissions.ListActiveForOwner(ctx, userID, ownerID)
	if err != nil {
		return models.Capabilities{}, fmt.Errorf("authorize owner: %w", err)
	}
	if len(grants) == 0 {
		return models.Capabilities{}, apperr.ErrPermissionDenied
	}
	caps := union(grants)
	if !Has(caps, c) {
		return models.Capabilities{}, apperr.ErrPermissionDenied
	}
	return caps, nil
}

// AccessibleOwnerIDs returns userID plus every owner that granted them
// something.
func (r *Resolver) AccessibleOwnerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := r.start(ctx, "access.AccessibleOwnerIDs", userID)
	defer span.End()

	grants, err := r.permissions.ListActiveByAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible owners: %w", err)
	}
	ids := []uuid.UUID{userID}
	seen := map[uuid.UUID]bool{userID: true}
	for _, g := range grants {
		if !seen[g.OwnerID] {
			seen[g.OwnerID] = true
			ids = append(ids, g.OwnerID)
		}
	}
	return ids, nil
}

// AccessibleChannels lists every channel the user can see, with the
// capabilities they hold on each.
func (r *Resolver) AccessibleChannels(ctx context.Context, userID uuid.UUID) ([]ChannelAccess, error) {
	ctx, span := r.start(ctx, "access.AccessibleChannels", userID)
	defer span.End()

	grants, err := r.permissions.ListActiveByAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible channels: %w", err)
	}

	// Owners whose every channel is shared, and channels shared one by one.
	ownerCaps := make(map[uuid.UUID]models.Capabilities)
	scoped := make(map[uuid.UUID]models.Capabilities)
	owners := []uuid.UUID{userID}
	for _, g := range grants {
		if g.ChannelID == nil {
			if _, ok := ownerCaps[g.OwnerID]; !ok {
				owners = append(owners, g.OwnerID)
			}
			ownerCaps[g.OwnerID] = ownerCaps[g.OwnerID].Union(g.Permissions)
			continue
		}
		scoped[*g.ChannelID] = scoped[*g.ChannelID].Union(g.Permissions)
	}

	byOwner, err := r.channels.ListByOwners(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("accessible channels: %w", err)
	}

	out := make([]ChannelAccess, 0, len(byOwner)+len(scoped))
	seen := make(map[uuid.UUID]bool, len(byOwner))
	for _, ch := range byOwner {
		seen[ch.ID] = true
		if ch.OwnerID == userID {
			out = append(out, ChannelAccess{Channel: ch, Capabilities: models.AllCapabilities(), IsOwner: true})
			continue
		}
		caps := ownerCaps[ch.OwnerID]
		if extra, ok := scoped[ch.ID]; ok {
			caps = caps.Union(extra)
		}
		out = append(out, ChannelAccess{Channel: ch, Capabilities: caps})
	}

	missing := make([]uuid.UUID, 0, len(scoped))
	for id := range scoped {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		rest, err := r.channels.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("accessible channels: %w", err)
		}
		for _, ch := range rest {
			out = append(out, ChannelAccess{Channel: ch, Capabilities: scoped[ch.ID]})
		}
	}
	return out, nil
}

// ChannelIDs is a convenience over AccessibleChannels.
func ChannelIDs(list []ChannelAccess) []uuid.UUID {
	ids := make([]uuid.UUID, len(list))
	for i := range list {
		ids[i] = list[i].Channel.ID
	}
	return ids
}

func union(grants []models.PermissionGrant) models.Capabilities {
	var caps models.Capabilities
	for _, g := range grants {
		caps = caps.Union(g.Permissions)
	}
	return caps
}
