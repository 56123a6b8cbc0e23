// Package avito is a focused client for the Avito messenger API: OAuth2
// client-credentials auth, chat listing, message history and text sends.
package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"rental-agent/internal/domain"
)

// tokenExpirySlack is subtracted from the reported token lifetime so a token
// is refreshed before it actually expires mid-request.
const tokenExpirySlack = 60 * time.Second

// Getter is the secrets interface the client pulls its OAuth client secret
// from (SSM paramstore in production, env-backed in local runs).
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// secretPayload is the expected JSON shape stored for the client secret.
type secretPayload struct {
	ClientSecret string `json:"client_secret"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("avito: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type chatPayload struct {
	ID      string `json:"id"`
	Context struct {
		Value domain.ListingContext `json:"value"`
	} `json:"context"`
}

type chatsResponse struct {
	Chats []chatPayload `json:"chats"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Created   int64  `json:"created"`
	AuthorID  int64  `json:"author_id"`
	Content   struct {
		Text string `json:"text"`
	} `json:"content"`
}

type messagesResponse struct {
	Messages []messagePayload `json:"messages"`
}

type sendRequest struct {
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Type string `json:"type"`
}

// Client talks to the Avito messenger API on behalf of one account.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	userID      int64
	clientID    string
	pageLimit   int

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPageLimit sets the limit parameter used for chat and message listings.
func WithPageLimit(limit int) Option {
	return func(c *Client) {
		c.pageLimit = limit
	}
}

// NewClient creates a Client. The OAuth client secret is fetched from the
// secrets Getter on first use and a bearer token is maintained until expiry.
func NewClient(getter Getter, paramPrefix string, userID int64, clientID string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("avito: secrets getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("avito: parameter prefix must not be empty")
	}
	if userID == 0 {
		return nil, errors.New("avito: user id must not be zero")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("avito: client id must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.avito.ru",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		getter:      getter,
		paramPrefix: paramPrefix,
		userID:      userID,
		clientID:    clientID,
		pageLimit:   100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) secretParameterName() string {
	return c.paramPrefix + "/avito-client-secret"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// token returns a valid bearer token, re-authenticating when the cached one
// is close to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	secret, err := fetchClientSecret(ctx, c.getter, c.secretParameterName())
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {secret},
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + "/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("avito: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := c.doRequest(req, endpoint)
	if err != nil {
		return "", fmt.Errorf("avito: token request failed: %w", err)
	}

	var payload tokenResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("avito: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("avito: empty access token in response")
	}

	c.accessToken = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime > tokenExpirySlack {
		lifetime -= tokenExpirySlack
	}
	c.tokenExpiry = time.Now().Add(lifetime)
	return c.accessToken, nil
}

// ListChats returns the account's active chats with their listing context.
func (c *Client) ListChats(ctx context.Context) ([]domain.Chat, error) {
	endpoint := fmt.Sprintf("%s/messenger/v2/accounts/%d/chats?limit=%d",
		strings.TrimRight(c.baseURL, "/"), c.userID, c.pageLimit)

	raw, err := c.doAuthorized(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload chatsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("avito: decode chats response: %w", err)
	}

	chats := make([]domain.Chat, 0, len(payload.Chats))
	for _, ch := range payload.Chats {
		chats = append(chats, domain.Chat{ID: ch.ID, Listing: ch.Context.Value})
	}
	return chats, nil
}

// ListMessages returns a chat's message history. The API returns either a
// wrapped object or a bare array depending on version; both are accepted.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	if chatID == "" {
		return nil, errors.New("avito: chat id must not be empty")
	}
	endpoint := fmt.Sprintf("%s/messenger/v3/accounts/%d/chats/%s/messages/?limit=%d",
		strings.TrimRight(c.baseURL, "/"), c.userID, url.PathEscape(chatID), c.pageLimit)

	raw, err := c.doAuthorized(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payloads []messagePayload
	trimmed := bytes.TrimSpace(raw)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("avito: decode messages response: %w", err)
		}
	} else {
		var wrapped messagesResponse
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("avito: decode messages response: %w", err)
		}
		payloads = wrapped.Messages
	}

	messages := make([]domain.Message, 0, len(payloads))
	for _, m := range payloads {
		messages = append(messages, domain.Message{
			ID:        m.ID,
			Direction: domain.Direction(m.Direction),
			Kind:      m.Type,
			CreatedAt: m.Created,
			AuthorID:  m.AuthorID,
			Text:      m.Content.Text,
		})
	}
	return messages, nil
}

// SendText posts a text message into a chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return errors.New("avito: chat id must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("avito: text must not be empty")
	}

	var payload sendRequest
	payload.Message.Text = text
	payload.Type = "text"
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("avito: marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/chats/%s/messages",
		strings.TrimRight(c.baseURL, "/"), c.userID, url.PathEscape(chatID))
	if _, err := c.doAuthorized(ctx, http.MethodPost, endpoint, body); err != nil {
		return err
	}
	return nil
}

func (c *Client) doAuthorized(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("avito: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.doRequest(req, endpoint)
	if err != nil {
		return nil, fmt.Errorf("avito: request failed: %w", err)
	}
	return raw, nil
}

func (c *Client) doRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchClientSecret(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("avito: fetch client secret from paramstore: %w", err)
	}
	var sp secretPayload
	if err := json.Unmarshal([]byte(raw), &sp); err != nil {
		return "", fmt.Errorf("avito: unmarshal paramstore secret value as JSON: %w", err)
	}
	if sp.ClientSecret == "" {
		return "", errors.New("avito: client secret is empty")
	}
	return sp.ClientSecret, nil
}
