// Package platform wraps the LINE Messaging API SDK behind the small
// interface the inbox and broadcast code use: pushing messages, reading
// contact profiles and checking webhook signatures.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.line.me"

var userIDPattern = regexp.MustCompile(`^U[0-9a-f]{32}$`)

// ValidUserID reports whether id is a well-formed platform user id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// Message is one outbound message object.
type Message struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

func TextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

func ImageMessage(u string) Message {
	return Message{Type: "image", OriginalContentURL: u, PreviewImageURL: u}
}

// Profile is a contact's public profile.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// Client is what the inbox and broadcast code need from the platform.
type Client interface {
	Push(ctx context.Context, accessToken, to string, messages ...Message) error
	GetProfile(ctx context.Context, accessToken, userID string) (*Profile, error)
}

// APIError is a non-2xx answer from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api: status %d: %s", e.Status, e.Message)
}

// SDKClient implements Client with the official SDK. One API value is
// built per call because every channel has its own access token.
type SDKClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewSDKClient builds a client. pushesPerSecond paces outbound pushes
// across the whole process; zero disables pacing.
func NewSDKClient(endpoint string, pushesPerSecond int, logger *zap.Logger) *SDKClient {
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}
	limit := rate.Inf
	burst := 1
	if pushesPerSecond > 0 {
		limit = rate.Limit(pushesPerSecond)
		burst = pushesPerSecond
	}
	return &SDKClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

func (c *SDKClient) api(ctx context.Context, accessToken string) (*messaging_api.MessagingApiAPI, error) {
	bot, err := messaging_api.NewMessagingApiAPI(accessToken,
		messaging_api.WithHTTPClient(c.http),
		messaging_api.WithEndpoint(c.endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging api client: %w", err)
	}
	return bot.WithContext(ctx), nil
}

func toSDKMessages(messages []Message) []messaging_api.MessageInterface {
	out := make([]messaging_api.MessageInterface, 0, len(messages))
	for _, m := range messages {
		switch m.Type {
		case "image":
			out = append(out, &messaging_api.ImageMessage{
				OriginalContentUrl: m.OriginalContentURL,
				PreviewImageUrl:    m.PreviewImageURL,
			})
		default:
			out = append(out, &messaging_api.TextMessage{Text: m.Text})
		}
	}
	return out
}

func (c *SDKClient) Push(ctx context.Context, accessToken, to string, messages ...Message) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	bot, err := c.api(ctx, accessToken)
	if err != nil {
		return err
	}
	resp, _, err := bot.PushMessageWithHttpInfo(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: toSDKMessages(messages),
	}, "")
	return c.check("push", resp, err)
}

func (c *SDKClient) GetProfile(ctx context.Context, accessToken, userID string) (*Profile, error) {
	bot, err := c.api(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	resp, p, err := bot.GetProfileWithHttpInfo(userID)
	if err := c.check("get profile", resp, err); err != nil {
		return nil, err
	}
	return &Profile{UserID: p.UserId, DisplayName: p.DisplayName, PictureURL: p.PictureUrl}, nil
}

// check turns a non-2xx answer into an APIError carrying the platform's
// message. Transport failures are wrapped as they are.
func (c *SDKClient) check(op string, resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(raw) == 0 && err != nil {
			// The SDK may have drained the body into its error text.
			raw = []byte(err.Error())
			if i := bytes.IndexByte(raw, '{'); i >= 0 {
				raw = raw[i:]
			}
		}
		c.logger.Debug("platform call failed", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Message: platformMessage(raw)}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp == nil {
		return fmt.Errorf("%s: no response", op)
	}
	return nil
}

func platformMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
