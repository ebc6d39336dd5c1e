package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/broadcast"
	"github.com/lalith-99/linedesk/internal/inbox"
	"github.com/lalith-99/linedesk/internal/invite"
	"github.com/lalith-99/linedesk/internal/mailer"
	"github.com/lalith-99/linedesk/internal/media"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePlatform struct {
	mu     sync.Mutex
	pushes []string
}

func (p *fakePlatform) Push(_ context.Context, _, to string, _ ...platform.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, to)
	return nil
}

func (p *fakePlatform) GetProfile(_ context.Context, _, userID string) (*platform.Profile, error) {
	return &platform.Profile{UserID: userID, DisplayName: "Contact " + userID[:4]}, nil
}

func (p *fakePlatform) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Mail
}

func (o *outbox) Send(_ context.Context, m mailer.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

type testServer struct {
	router     *gin.Engine
	line       *fakePlatform
	mail       *outbox
	broadcasts *broadcast.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	users := memory.NewUserStore()
	channels := memory.NewChannelStore()
	grants := memory.NewPermissionStore()
	tags := memory.NewTagStore()
	replies := memory.NewQuickReplyStore()
	broadcasts := memory.NewBroadcastStore()
	conversations := memory.NewConversationStore()
	messages := memory.NewMessageStore()

	line := &fakePlatform{}
	mail := &outbox{}
	registry := notify.NewRegistry(nil, logger)
	resolver := access.NewResolver(channels, grants)
	store, err := media.NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	ts := &testServer{line: line, mail: mail}
	ts.broadcasts = broadcast.NewService(broadcasts, channels, conversations, resolver, line, registry, logger)
	ts.router = NewRouter(Deps{
		Users:         users,
		Channels:      channels,
		Conversations: conversations,
		Messages:      messages,
		Tags:          tags,
		QuickReplies:  replies,
		Resolver:      resolver,
		Inbox:         inbox.NewService(channels, conversations, messages, tags, grants, resolver, line, registry, logger),
		Broadcasts:    ts.broadcasts,
		Invites: invite.NewService(users, channels, grants, mail,
			invite.Config{BaseURL: "https://app.example.com", TTL: time.Hour}, logger),
		Registry:          registry,
		Media:             store,
		Issuer:            auth.NewIssuer("test-secret", time.Hour),
		Session:           SessionConfig{CookieName: "session"},
		CORSOrigins:       []string{"https://app.example.com"},
		RateLimitRequests: 10000,
		RateLimitWindow:   time.Minute,
		Heartbeat:         time.Minute,
		Logger:            logger,
	})
	t.Cleanup(func() { _ = ts.broadcasts.Wait(context.Background()) })
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if raw, isRaw := body.([]byte); isRaw {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID uuid.UUID `json:"id"`
	} `json:"user"`
}

func (ts *testServer) registerOwner(t *testing.T, email string) session {
	t.Helper()
	w, env := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": email, "password": "password123", "name": "Owner",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session](t, env)
}

type channelView struct {
	Channel struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	} `json:"channel"`
	IsOwner bool `json:"is_owner"`
}

const channelSecret = "channel-secret"

func (ts *testServer) createChannel(t *testing.T, token string) uuid.UUID {
	t.Helper()
	w, env := ts.do(t, http.MethodPost, "/api/channels", token, gin.H{
		"name":                "Shop",
		"platform_channel_id": "1650000000",
		"channel_secret":      channelSecret,
		"access_token":        "access-token",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[channelView](t, env).Channel.ID
}

func lineID(n int) string {
	return fmt.Sprintf("U%032x", n)
}

func (ts *testServer) webhook(t *testing.T, channelID uuid.UUID, from, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(platform.WebhookPayload{Events: []platform.Event{{
		Type:      platform.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Source:    platform.Source{Type: "user", UserID: from},
		Message:   &platform.EventMessageBody{ID: uuid.NewString(), Type: "text", Text: text},
	}}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/"+channelID.String(), bytes.NewReader(body))
	req.Header.Set(platform.SignatureHeader, platform.Sign(channelSecret, body))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type conversationView struct {
	ID         string     `json:"id"`
	LineUserID string     `json:"line_user_id"`
	AssignedTo *uuid.UUID `json:"assigned_to"`
}

func (ts *testServer) firstConversation(t *testing.T, token string) conversationView {
	t.Helper()
	w, env := ts.do(t, http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[[]conversationView](t, env)
	require.NotEmpty(t, list)
	return list[0]
}

// inviteAdmin runs the invitation and claim flow and returns the admin's
// session.
func (ts *testServer) inviteAdmin(t *testing.T, ownerToken string, channelID uuid.UUID, perms gin.H) session {
	t.Helper()
	w, env := ts.do(t, http.MethodPost, "/api/team/invitations", ownerToken, gin.H{
		"email":       "admin@example.com",
		"channel_id":  channelID,
		"permissions": perms,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decode[struct {
		AcceptURL string `json:"accept_url"`
	}](t, env)
	token := inv.AcceptURL[strings.LastIndex(inv.AcceptURL, "/")+1:]

	w, env = ts.do(t, http.MethodGet, "/api/invitations/"+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[struct {
		NeedsAccount bool `json:"needs_account"`
	}](t, env).NeedsAccount)

	w, env = ts.do(t, http.MethodPost, "/api/invitations/"+token+"/register", "", gin.H{
		"name": "Admin", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session](t, env)
}

func TestInvitedAdminCanReplyButNotBroadcast(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)

	require.Equal(t, http.StatusOK, ts.webhook(t, channelID, lineID(1), "hello").Code)
	conv := ts.firstConversation(t, owner.Token)
	assert.Equal(t, lineID(1), conv.LineUserID)

	admin := ts.inviteAdmin(t, owner.Token, channelID, gin.H{"can_reply": true})
	require.Len(t, ts.mail.sent, 1)
	assert.Equal(t, "admin@example.com", ts.mail.sent[0].To)

	// Without can_view_all the list only shows what is assigned to them.
	w, env := ts.do(t, http.MethodGet, "/api/conversations", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]conversationView](t, env))

	w, _ = ts.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = ts.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", admin.Token, gin.H{"text": "thanks!"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, ts.line.count())

	w, env = ts.do(t, http.MethodPost, "/api/broadcasts", admin.Token, gin.H{
		"channel_id": channelID,
		"name":       "sale",
		"content":    gin.H{"text": "50% off"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, env.Success)

	// The channel shows up for the admin with exactly the granted flags.
	w, env = ts.do(t, http.MethodGet, "/api/channels", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]access.ChannelAccess](t, env)
	require.Len(t, list, 1)
	assert.True(t, list[0].Capabilities.CanReply)
	assert.False(t, list[0].Capabilities.CanBroadcast)
	assert.False(t, list[0].IsOwner)
}

func TestInactiveChannelRefusesWrites(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)
	require.Equal(t, http.StatusOK, ts.webhook(t, channelID, lineID(1), "hello").Code)
	conv := ts.firstConversation(t, owner.Token)

	w, env := ts.do(t, http.MethodPost, "/api/broadcasts", owner.Token, gin.H{
		"channel_id": channelID,
		"name":       "sale",
		"content":    gin.H{"text": "50% off"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	broadcastID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, env).ID

	w, _ = ts.do(t, http.MethodPut, "/api/channels/"+channelID.String()+"/status", owner.Token, gin.H{"status": "inactive"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = ts.do(t, http.MethodPost, "/api/broadcasts/"+broadcastID.String()+"/send", owner.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "channel is disabled", env.Message)

	w, env = ts.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", owner.Token, gin.H{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "channel is disabled", env.Message)
	assert.Equal(t, 0, ts.line.count())

	assert.Equal(t, http.StatusForbidden, ts.webhook(t, channelID, lineID(2), "anyone?").Code)

	// Reading still works.
	w, _ = ts.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", owner.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/channels/"+channelID.String()+"/status", owner.Token, gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", owner.Token, gin.H{"text": "hi"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/"+channelID.String(), strings.NewReader(`{"events":[]}`))
	req.Header.Set(platform.SignatureHeader, platform.Sign("wrong", []byte(`{"events":[]}`)))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/webhook/"+uuid.NewString(), strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.registerOwner(t, "owner@example.com")

	w, env := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "OWNER@example.com", "password": "password123", "name": "Again",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email already registered", env.Message)

	w, _ = ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "short@example.com", "password": "short", "name": "Short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "owner@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", env.Message)

	w, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "owner@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"owner@example.com"`)
	assert.NotContains(t, rec.Body.String(), "password")

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	w, env = ts.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

func TestInvitedAccountCannotLoginBeforeClaim(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)

	w, _ := ts.do(t, http.MethodPost, "/api/team/invitations", owner.Token, gin.H{
		"email": "admin@example.com", "channel_id": channelID, "permissions": gin.H{"can_reply": true},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "admin@example.com", "password": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "admin@example.com", "password": "anything1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Inviting the same address again while pending is refused.
	w, env := ts.do(t, http.MethodPost, "/api/team/invitations", owner.Token, gin.H{
		"email": "admin@example.com", "channel_id": channelID, "permissions": gin.H{"can_reply": true},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "this email already invited", env.Message)
}

func TestRevokedAdminLosesAccess(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)
	admin := ts.inviteAdmin(t, owner.Token, channelID, gin.H{"can_view_all": true})

	w, env := ts.do(t, http.MethodGet, "/api/team/members", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	members := decode[[]struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}](t, env)
	require.Len(t, members, 1)
	assert.Equal(t, "active", members[0].Status)

	w, _ = ts.do(t, http.MethodGet, "/api/channels/"+channelID.String(), admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/team/members/"+members[0].ID.String(), owner.Token, gin.H{"status": "revoked"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = ts.do(t, http.MethodGet, "/api/channels/"+channelID.String(), admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTags(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	w, env := ts.do(t, http.MethodPost, "/api/tags", owner.Token, gin.H{"name": "VIP", "color": "#FF0000"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tagID := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, env).ID

	w, env = ts.do(t, http.MethodPost, "/api/tags", owner.Token, gin.H{"name": "vip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tag name already exists", env.Message)

	w, _ = ts.do(t, http.MethodPost, "/api/tags", owner.Token, gin.H{"name": "bad", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := ts.registerOwner(t, "other@example.com")
	w, _ = ts.do(t, http.MethodDelete, "/api/tags/"+tagID.String(), other.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/tags/"+tagID.String(), owner.Token, gin.H{"name": "Gold"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/tags", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"name":"Gold"`)
	assert.Contains(t, string(env.Data), `"color":"#FF0000"`)

	w, _ = ts.do(t, http.MethodDelete, "/api/tags/"+tagID.String(), owner.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodDelete, "/api/tags/"+tagID.String(), owner.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuickReplies(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	w, env := ts.do(t, http.MethodPost, "/api/quick-replies", owner.Token, gin.H{"title": "Hours", "content": "We open at 9."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, env).ID

	w, _ = ts.do(t, http.MethodPut, "/api/quick-replies/"+id.String(), owner.Token, gin.H{"title": "Hours", "content": "We open at 10."})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/quick-replies", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "We open at 10.")

	stranger := ts.registerOwner(t, "stranger@example.com")
	w, _ = ts.do(t, http.MethodDelete, "/api/quick-replies/"+id.String(), stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBroadcastSendAndRecipients(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")
	channelID := ts.createChannel(t, owner.Token)
	for i := 1; i <= 3; i++ {
		require.Equal(t, http.StatusOK, ts.webhook(t, channelID, lineID(i), "hi").Code)
	}

	w, env := ts.do(t, http.MethodPost, "/api/broadcasts", owner.Token, gin.H{
		"channel_id": channelID,
		"name":       "sale",
		"content":    gin.H{"text": "50% off"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, env).ID

	w, _ = ts.do(t, http.MethodPost, "/api/broadcasts/"+id.String()+"/send", owner.Token, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.NoError(t, ts.broadcasts.Wait(context.Background()))
	assert.Equal(t, 3, ts.line.count())

	w, env = ts.do(t, http.MethodGet, "/api/broadcasts/"+id.String(), owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[struct {
		Status    string `json:"status"`
		SentCount int    `json:"sent_count"`
	}](t, env)
	assert.Equal(t, "completed", b.Status)
	assert.Equal(t, 3, b.SentCount)

	w, env = ts.do(t, http.MethodGet, "/api/broadcasts/"+id.String()+"/recipients", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]json.RawMessage](t, env), 3)

	w, env = ts.do(t, http.MethodPost, "/api/broadcasts/"+id.String()+"/send", owner.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "broadcast is already being sent", env.Message)
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "avatar.txt")
	require.NoError(t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestAvatarUploadAndMedia(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	body, contentType := pngUpload(t)
	req := httptest.NewRequest(http.MethodPost, "/api/users/me/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+owner.Token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	user := decode[struct {
		AvatarURL string `json:"avatar_url"`
	}](t, env)
	require.True(t, strings.HasPrefix(user.AvatarURL, "/api/media/"+owner.User.ID.String()+"/"))
	assert.True(t, strings.HasSuffix(user.AvatarURL, ".png"))

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, user.AvatarURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/..%2F..%2Fetc/passwd", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/"+owner.User.ID.String()+"/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	w, env := ts.do(t, http.MethodGet, "/api/users/me/settings", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, string(env.Data))

	w, _ = ts.do(t, http.MethodPut, "/api/users/me/settings", owner.Token, gin.H{"notifications": true})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/api/users/me/settings", owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"notifications":true}`, string(env.Data))

	w, _ = ts.do(t, http.MethodPut, "/api/users/me/settings", owner.Token, []byte(`[1,2]`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	w, _ := ts.do(t, http.MethodPut, "/api/users/me/password", owner.Token, gin.H{
		"current_password": "wrong-password", "new_password": "newpassword1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/users/me/password", owner.Token, gin.H{
		"current_password": "password123", "new_password": "newpassword1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "owner@example.com", "password": "newpassword1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestEventStreamSendsConnected(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.registerOwner(t, "owner@example.com")

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+owner.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)
}
