package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidUserID(t *testing.T) {
	assert.True(t, ValidUserID("U0123456789abcdef0123456789abcdef"))
	assert.False(t, ValidUserID("U0123456789ABCDEF0123456789ABCDEF"))
	assert.False(t, ValidUserID("C0123456789abcdef0123456789abcdef"))
	assert.False(t, ValidUserID("U0123"))
	assert.False(t, ValidUserID(""))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := Sign("secret", body)

	assert.True(t, VerifySignature("secret", sig, body))
	assert.False(t, VerifySignature("other", sig, body))
	assert.False(t, VerifySignature("secret", sig, []byte(`{"events":[{}]}`)))
	assert.False(t, VerifySignature("secret", "not base64!", body))
	assert.False(t, VerifySignature("", sig, body))
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"destination":"Uabc","events":[
		{"type":"message","timestamp":1700000000000,"source":{"type":"user","userId":"U1"},
		 "message":{"id":"m1","type":"text","text":"hello"}},
		{"type":"follow","source":{"type":"user","userId":"U2"}}]}`)

	p, err := ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, p.Events, 2)
	assert.Equal(t, EventMessage, p.Events[0].Type)
	assert.Equal(t, "hello", p.Events[0].Message.Text)
	assert.Equal(t, int64(1700000000000), p.Events[0].Time().UnixMilli())
	assert.Equal(t, EventFollow, p.Events[1].Type)

	_, err = ParseWebhook([]byte("{"))
	assert.Error(t, err)
}

func TestParseWebhookSources(t *testing.T) {
	body := []byte(`{"destination":"Uabc","events":[
		{"type":"message","timestamp":1,"source":{"type":"group","groupId":"Cg","userId":"U3"},
		 "message":{"id":"m2","type":"sticker","packageId":"1","stickerId":"2"}},
		{"type":"message","timestamp":2,"source":{"type":"room","roomId":"Rr","userId":"U4"},
		 "message":{"id":"m3","type":"file","fileName":"menu.pdf","fileSize":10}},
		{"type":"unfollow","timestamp":3,"source":{"type":"user","userId":"U5"}},
		{"type":"postback","timestamp":4,"source":{"type":"user","userId":"U5"},"postback":{"data":"x"}}]}`)

	p, err := ParseWebhook(body)
	require.NoError(t, err)
	require.Len(t, p.Events, 4)

	assert.Equal(t, Source{Type: "group", GroupID: "Cg", UserID: "U3"}, p.Events[0].Source)
	assert.Equal(t, "sticker", p.Events[0].Message.Type)
	assert.Equal(t, "2", p.Events[0].Message.StickerID)

	assert.Equal(t, Source{Type: "room", RoomID: "Rr", UserID: "U4"}, p.Events[1].Source)
	assert.Equal(t, "menu.pdf", p.Events[1].Message.FileName)

	assert.Equal(t, EventUnfollow, p.Events[2].Type)
	assert.Equal(t, "U5", p.Events[2].Source.UserID)

	assert.Equal(t, "postback", p.Events[3].Type)
}

func TestSDKClient(t *testing.T) {
	var pushed struct {
		To       string `json:"to"`
		Messages []struct {
			Type               string `json:"type"`
			Text               string `json:"text"`
			OriginalContentURL string `json:"originalContentUrl"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Authentication failed"}`))
			return
		}
		switch r.URL.Path {
		case "/v2/bot/message/push":
			_ = json.NewDecoder(r.Body).Decode(&pushed)
			_, _ = w.Write([]byte(`{"sentMessages":[]}`))
		case "/v2/bot/profile/U1":
			_, _ = w.Write([]byte(`{"userId":"U1","displayName":"Taro","pictureUrl":"https://img/1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not found"}`))
		}
	}))
	defer srv.Close()

	c := NewSDKClient(srv.URL, 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Push(ctx, "token", "U1", TextMessage("hi"), ImageMessage("https://img/a.png")))
	assert.Equal(t, "U1", pushed.To)
	require.Len(t, pushed.Messages, 2)
	assert.Equal(t, "text", pushed.Messages[0].Type)
	assert.Equal(t, "hi", pushed.Messages[0].Text)
	assert.Equal(t, "image", pushed.Messages[1].Type)
	assert.Equal(t, "https://img/a.png", pushed.Messages[1].OriginalContentURL)

	p, err := c.GetProfile(ctx, "token", "U1")
	require.NoError(t, err)
	assert.Equal(t, "Taro", p.DisplayName)
	assert.Equal(t, "https://img/1", p.PictureURL)

	err = c.Push(ctx, "bad", "U1", TextMessage("hi"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Authentication failed", apiErr.Message)

	_, err = c.GetProfile(ctx, "token", "U404")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestPlatformMessage(t *testing.T) {
	assert.Equal(t, "Invalid reply token", platformMessage([]byte(`{"message":"Invalid reply token","details":[]}`)))
	assert.Equal(t, "bad gateway", platformMessage([]byte("bad gateway\n")))
	assert.Equal(t, "", platformMessage(nil))
}
