package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationStore hands out ObjectID hex ids so ids look the same as
// with the mongo backend.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]models.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[string]models.Conversation)}
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.TagIDs = append([]uuid.UUID(nil), c.TagIDs...)
	if c.TagIDs == nil {
		c.TagIDs = []uuid.UUID{}
	}
	return c
}

func (s *ConversationStore) GetOrCreate(_ context.Context, channelID, ownerID uuid.UUID, contact repository.Contact) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.ChannelID == channelID && c.LineUserID == contact.LineUserID {
			c = cloneConversation(c)
			return &c, false, nil
		}
	}
	now := time.Now().UTC()
	c := models.Conversation{
		ID:            primitive.NewObjectID().Hex(),
		ChannelID:     channelID,
		OwnerID:       ownerID,
		LineUserID:    contact.LineUserID,
		DisplayName:   contact.DisplayName,
		PictureURL:    contact.PictureURL,
		SourceType:    contact.SourceType,
		ContactStatus: models.ContactFollowed,
		Status:        models.ConversationUnread,
		TagIDs:        []uuid.UUID{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.convs[c.ID] = c
	c = cloneConversation(c)
	return &c, true, nil
}

// Put stores a conversation as given, assigning an id when empty.
func (s *ConversationStore) Put(c models.Conversation) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = primitive.NewObjectID().Hex()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c = cloneConversation(c)
	s.convs[c.ID] = c
	return c
}

func (s *ConversationStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	c = cloneConversation(c)
	return &c, nil
}

func (s *ConversationStore) List(_ context.Context, f repository.ConversationFilter) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0)
	channels := make(map[uuid.UUID]bool, len(f.ChannelIDs))
	for _, id := range f.ChannelIDs {
		channels[id] = true
	}
	search := strings.ToLower(f.Search)
	for _, c := range s.convs {
		switch {
		case !channels[c.ChannelID]:
			continue
		case f.Status != "" && c.Status != f.Status:
			continue
		case f.TagID != nil && !c.HasAnyTag([]uuid.UUID{*f.TagID}):
			continue
		case f.AssignedTo != nil && (c.AssignedTo == nil || *c.AssignedTo != *f.AssignedTo):
			continue
		case search != "" && !strings.Contains(strings.ToLower(c.DisplayName), search):
			continue
		case f.Before != nil && !c.UpdatedAt.Before(*f.Before):
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ConversationStore) update(id string, fn func(c *models.Conversation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return
	}
	fn(&c)
	s.convs[id] = c
}

func (s *ConversationStore) UpdateStatus(_ context.Context, id, status string) error {
	s.update(id, func(c *models.Conversation) {
		c.Status = status
		c.UpdatedAt = time.Now().UTC()
	})
	return nil
}

func (s *ConversationStore) SetTags(_ context.Context, id string, tagIDs []uuid.UUID) error {
	s.update(id, func(c *models.Conversation) {
		c.TagIDs = append([]uuid.UUID{}, tagIDs...)
		c.UpdatedAt = time.Now().UTC()
	})
	return nil
}

func (s *ConversationStore) Assign(_ context.Context, id string, userID *uuid.UUID) error {
	s.update(id, func(c *models.Conversation) {
		if userID == nil {
			c.AssignedTo = nil
		} else {
			assigned := *userID
			c.AssignedTo = &assigned
		}
		c.UpdatedAt = time.Now().UTC()
	})
	return nil
}

func (s *ConversationStore) RecordMessage(_ context.Context, id, preview string, at time.Time, inbound bool) error {
	s.update(id, func(c *models.Conversation) {
		c.LastMessage = preview
		t := at
		c.LastMessageAt = &t
		c.UpdatedAt = at
		if inbound {
			c.Status = models.ConversationUnread
			c.UnreadCount++
		}
	})
	return nil
}

func (s *ConversationStore) MarkRead(_ context.Context, id string) error {
	s.update(id, func(c *models.Conversation) {
		c.UnreadCount = 0
		if c.Status == models.ConversationUnread {
			c.Status = models.ConversationRead
		}
	})
	return nil
}

func (s *ConversationStore) UpdateContactStatus(_ context.Context, channelID uuid.UUID, lineUserID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.convs {
		if c.ChannelID == channelID && c.LineUserID == lineUserID {
			c.ContactStatus = status
			c.UpdatedAt = time.Now().UTC()
			s.convs[id] = c
		}
	}
	return nil
}

func (s *ConversationStore) UpdateContactProfile(_ context.Context, id, displayName, pictureURL string) error {
	s.update(id, func(c *models.Conversation) {
		c.DisplayName = displayName
		c.PictureURL = pictureURL
	})
	return nil
}

func (s *ConversationStore) ListByChannel(_ context.Context, channelID uuid.UUID) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0)
	for _, c := range s.convs {
		if c.ChannelID == channelID {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ConversationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	return nil
}

type MessageStore struct {
	mu       sync.RWMutex
	messages []models.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

func (s *MessageStore) Create(_ context.Context, in *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *in
	m.ID = primitive.NewObjectID().Hex()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *MessageStore) ListByConversation(_ context.Context, conversationID, before string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	skipping := before != ""
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ConversationID != conversationID {
			continue
		}
		if skipping {
			if m.ID == before {
				skipping = false
			}
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MessageStore) MarkConversationRead(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.Direction == models.DirectionInbound && !m.IsRead {
			m.IsRead = true
			readAt := at
			m.ReadAt = &readAt
		}
	}
	return nil
}

func (s *MessageStore) DeleteByConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}
