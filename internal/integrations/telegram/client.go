// Package telegram posts completed rental applications to the operator
// channel via the Telegram bot API.
package telegram

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

	"github.com/google/uuid"

	"rental-agent/internal/domain"
)

// Getter is the secrets interface the client pulls the bot token from.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK bool `json:"ok"`
}

type geocodeResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road        string `json:"road"`
		HouseNumber string `json:"house_number"`
		Suburb      string `json:"suburb"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
	} `json:"address"`
}

// Client posts application summaries to a fixed operator chat.
type Client struct {
	baseURL        string
	geocodeBaseURL string
	httpClient     *http.Client
	getter         Getter
	paramPrefix    string
	chatID         string

	tokenOnce sync.Once
	botToken  string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// WithGeocodeBaseURL overrides the Nominatim endpoint used for reverse
// geocoding of listing coordinates.
func WithGeocodeBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.geocodeBaseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client posting to the given operator chat. The bot
// token is fetched from the secrets Getter on first use.
func NewClient(getter Getter, paramPrefix, chatID string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("telegram: secrets getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("telegram: chat id must not be empty")
	}
	c := &Client{
		baseURL:        "https://api.telegram.org",
		geocodeBaseURL: "https://nominatim.openstreetmap.org",
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		getter:         getter,
		paramPrefix:    paramPrefix,
		chatID:         chatID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/telegram-bot-token"
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.tokenParameterName())
		if err != nil {
			c.tokenErr = fmt.Errorf("telegram: fetch bot token from paramstore: %w", err)
			return
		}
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			c.tokenErr = fmt.Errorf("telegram: unmarshal paramstore token value as JSON: %w", err)
			return
		}
		if tp.Token == "" {
			c.tokenErr = errors.New("telegram: bot token is empty")
			return
		}
		c.botToken = tp.Token
	})
	return c.botToken, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// PostSummary formats the application as a Markdown card and sends it to the
// operator chat. The listing address is reverse geocoded best effort; on
// failure the card falls back to the listing's city title.
func (c *Client) PostSummary(ctx context.Context, app domain.Application, listing domain.ListingContext) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    c.chatID,
		Text:      c.formatSummary(ctx, app, listing),
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal send request: %w", err)
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/bot" + token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doRequest(req, endpoint)
	if err != nil {
		return fmt.Errorf("telegram: request failed: %w", err)
	}

	var decoded sendMessageResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !decoded.OK {
		return errors.New("telegram: sendMessage returned ok=false")
	}
	return nil
}

func (c *Client) formatSummary(ctx context.Context, app domain.Application, listing domain.ListingContext) string {
	var b strings.Builder
	b.WriteString("*Новая заявка на аренду*\n")
	b.WriteString("Заявка: `" + uuid.NewString() + "`\n\n")

	if listing.Title != "" {
		fmt.Fprintf(&b, "Объявление: %s\n", listing.Title)
	}
	if addr := c.resolveAddress(ctx, listing.Location); addr != "" {
		fmt.Fprintf(&b, "Адрес: %s\n", addr)
	}
	if listing.Title != "" || listing.Location.Title != "" {
		b.WriteString("\n")
	}

	if app.Name != "" {
		fmt.Fprintf(&b, "Имя: %s\n", app.Name)
	}
	if app.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", app.Phone)
	}
	if app.ResidentsInfo != "" {
		fmt.Fprintf(&b, "Жильцы: %s\n", app.ResidentsInfo)
	}
	if app.ResidentsCount > 0 {
		fmt.Fprintf(&b, "Взрослых: %d\n", app.ResidentsCount)
	}
	if app.HasChildren {
		fmt.Fprintf(&b, "Дети: %s\n", orDefault(app.ChildrenDetails, "есть"))
	} else {
		b.WriteString("Дети: нет\n")
	}
	if app.HasPets {
		fmt.Fprintf(&b, "Животные: %s\n", orDefault(app.PetsDetails, "есть"))
	} else {
		b.WriteString("Животные: нет\n")
	}
	if app.RentalPeriod != "" {
		fmt.Fprintf(&b, "Срок аренды: %s\n", app.RentalPeriod)
	}
	if app.MoveInDeadline != "" {
		fmt.Fprintf(&b, "Дата заезда: %s\n", app.MoveInDeadline)
	}

	b.WriteString("\nСтатус: готов к презентации собственнице")
	return b.String()
}

// resolveAddress turns listing coordinates into a street address. Any
// failure degrades to the listing's city title.
func (c *Client) resolveAddress(ctx context.Context, loc domain.Location) string {
	if loc.Lat == 0 || loc.Lon == 0 {
		return loc.Title
	}

	endpoint := fmt.Sprintf("%s/reverse?format=json&lat=%s&lon=%s&zoom=18&addressdetails=1",
		strings.TrimRight(c.geocodeBaseURL, "/"),
		url.QueryEscape(fmt.Sprintf("%g", loc.Lat)),
		url.QueryEscape(fmt.Sprintf("%g", loc.Lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return loc.Title
	}
	req.Header.Set("User-Agent", "rental-agent/1.0")

	raw, err := c.doRequest(req, endpoint)
	if err != nil {
		return loc.Title
	}

	var decoded geocodeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return loc.Title
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{
		decoded.Address.Road,
		decoded.Address.HouseNumber,
		decoded.Address.Suburb,
		decoded.Address.City,
		decoded.Address.Town,
		decoded.Address.Village,
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		if decoded.DisplayName != "" {
			return decoded.DisplayName
		}
		return loc.Title
	}
	return strings.Join(parts, ", ")
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

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
