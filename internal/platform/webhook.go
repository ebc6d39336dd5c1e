package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Line-Signature"

// VerifySignature checks a webhook body against the channel secret.
func VerifySignature(channelSecret, signature string, body []byte) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidateSignature(channelSecret, signature, body)
}

// Sign returns the signature the platform would send for body. The SDK
// only verifies, so test senders sign here.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Webhook event types handled by the inbox.
const (
	EventMessage  = "message"
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
)

// Source is the flattened event source the inbox keys conversations by.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type EventMessageBody struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	PackageID string `json:"packageId,omitempty"`
	StickerID string `json:"stickerId,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type Event struct {
	Type       string            `json:"type"`
	Timestamp  int64             `json:"timestamp"`
	ReplyToken string            `json:"replyToken,omitempty"`
	Source     Source            `json:"source"`
	Message    *EventMessageBody `json:"message,omitempty"`
}

// Time converts the millisecond timestamp.
func (e *Event) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// WebhookPayload is the delivery shape; tests marshal it to build bodies.
type WebhookPayload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ParseWebhook decodes a delivery with the SDK's typed events and
// flattens the ones the inbox handles. Other event types keep only their
// type so they can be counted and skipped.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	p := &WebhookPayload{Destination: cb.Destination, Events: make([]Event, 0, len(cb.Events))}
	for _, ev := range cb.Events {
		p.Events = append(p.Events, fromSDKEvent(ev))
	}
	return p, nil
}

func fromSDKEvent(ev webhook.EventInterface) Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return Event{
			Type:       EventMessage,
			Timestamp:  e.Timestamp,
			ReplyToken: e.ReplyToken,
			Source:     fromSDKSource(e.Source),
			Message:    fromSDKMessage(e.Message),
		}
	case webhook.FollowEvent:
		return Event{Type: EventFollow, Timestamp: e.Timestamp, ReplyToken: e.ReplyToken, Source: fromSDKSource(e.Source)}
	case webhook.UnfollowEvent:
		return Event{Type: EventUnfollow, Timestamp: e.Timestamp, Source: fromSDKSource(e.Source)}
	}
	return Event{Type: ev.GetType()}
}

func fromSDKSource(src webhook.SourceInterface) Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return Source{Type: "user", UserID: s.UserId}
	case webhook.GroupSource:
		return Source{Type: "group", GroupID: s.GroupId, UserID: s.UserId}
	case webhook.RoomSource:
		return Source{Type: "room", RoomID: s.RoomId, UserID: s.UserId}
	}
	return Source{}
}

func fromSDKMessage(m webhook.MessageContentInterface) *EventMessageBody {
	switch c := m.(type) {
	case webhook.TextMessageContent:
		return &EventMessageBody{ID: c.Id, Type: "text", Text: c.Text}
	case webhook.ImageMessageContent:
		return &EventMessageBody{ID: c.Id, Type: "image"}
	case webhook.StickerMessageContent:
		return &EventMessageBody{ID: c.Id, Type: "sticker", PackageID: c.PackageId, StickerID: c.StickerId}
	case webhook.FileMessageContent:
		return &EventMessageBody{ID: c.Id, Type: "file", FileName: c.FileName}
	case nil:
		return nil
	}
	return &EventMessageBody{Type: m.GetType()}
}
