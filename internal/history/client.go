// Package history talks to the request/response side of the server:
// backlog fetch, the best-effort durability write, group membership
// lists and credential refresh. The push channel is deliberately not
// its concern.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/auth"
	"github.com/MinhQuang2612/chatsync/internal/metrics"
	"github.com/MinhQuang2612/chatsync/internal/models"
)

// Options configures the REST client.
type Options struct {
	BaseURL string

	// UploadRoot is the server's local upload directory prefix;
	// payloads under it are rewritten to FileBaseURL so the client can
	// reach them.
	UploadRoot  string
	FileBaseURL string

	// StickerHost feeds the kind resolver.
	StickerHost string

	Credentials auth.CredentialProvider
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client is the REST client.
type Client struct {
	opts Options
}

// NewClient creates a REST client with a bounded request timeout.
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{opts: opts}
}

// doRequest performs an HTTP request with bearer auth and a request ID.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.opts.Credentials != nil {
		if token, _ := c.opts.Credentials.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errResp.Error)
	}
	return respBody, nil
}

// FetchPeer fetches the ordered backlog of the conversation between
// userA and userB. Failures come back wrapped in ErrHistoryFetch;
// callers treat that as an empty history, never as fatal.
func (c *Client) FetchPeer(ctx context.Context, userA, userB string) ([]models.Message, error) {
	return c.fetch(ctx, fmt.Sprintf("/message/%s/%s", userA, userB))
}

// FetchGroup fetches the ordered backlog of a group conversation.
func (c *Client) FetchGroup(ctx context.Context, groupID string) ([]models.Message, error) {
	return c.fetch(ctx, "/group/message/"+groupID)
}

func (c *Client) fetch(ctx context.Context, path string) ([]models.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		metrics.HistoryFetches.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrHistoryFetch, err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		metrics.HistoryFetches.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrHistoryFetch, err)
	}

	for i := range msgs {
		msgs[i] = c.Normalize(msgs[i])
	}
	metrics.HistoryFetches.WithLabelValues("ok").Inc()
	return msgs, nil
}

// Persist is the out-of-band durability write attempted after a
// successful push-channel acknowledgment. Its failure never rolls back
// the acknowledged entry; the caller only logs it.
func (c *Client) Persist(ctx context.Context, m models.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/message", body); err != nil {
		metrics.DurabilityWrites.WithLabelValues("failed").Inc()
		return err
	}
	metrics.DurabilityWrites.WithLabelValues("ok").Inc()
	return nil
}

// FetchMembers returns the current membership list of a group.
func (c *Client) FetchMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/group/"+groupID+"/members", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMembership, err)
	}
	var members []models.GroupMembership
	if err := json.Unmarshal(respBody, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMembership, err)
	}
	return members, nil
}

// RefreshToken exchanges a refresh token for a new credential pair.
// Shaped to plug into auth.NewProvider.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (auth.Credentials, error) {
	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/auth/refresh", body)
	if err != nil {
		return auth.Credentials{}, err
	}
	var creds auth.Credentials
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return auth.Credentials{}, err
	}
	return creds, nil
}
