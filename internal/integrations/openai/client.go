package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"rental-agent/internal/dialog"
	"rental-agent/internal/domain"
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// tokenPayload is the expected JSON shape stored in the paramstore for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client that generates the rental
// agent's replies and extracts the final application from a transcript.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	model       string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
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

// NewClient creates a new Client backed by the given secrets Getter for API
// key retrieval. The key is fetched on the first request and reused for the
// lifetime of the process.
func NewClient(ps Getter, paramPrefix, model string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: secrets getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.openai.com/v1",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from the paramstore on the first call and
// returns the cached result on every subsequent call within the same process
// lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// GenerateReply produces the agent's next message for the given transcript.
// The returned text may carry the completion marker; callers strip it before
// sending to the customer.
func (c *Client) GenerateReply(ctx context.Context, transcript string, firstTurn bool) (string, error) {
	messages := []domain.ChatMessage{
		{Role: "system", Content: agentSystemPrompt(firstTurn)},
		{Role: "user", Content: transcript},
	}

	reply, err := c.complete(ctx, chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("openai: empty reply")
	}
	return reply, nil
}

// ExtractApplication pulls the structured rental application out of a
// finished transcript using a strict JSON schema response format.
func (c *Client) ExtractApplication(ctx context.Context, transcript string) (domain.Application, error) {
	temperature := 0.1
	raw, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []domain.ChatMessage{
			{Role: "user", Content: extractionPrompt(transcript)},
		},
		Temperature:    &temperature,
		ResponseFormat: applicationResponseFormat(),
	})
	if err != nil {
		return domain.Application{}, err
	}

	var app domain.Application
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &app); err != nil {
		return domain.Application{}, fmt.Errorf("openai: decode application: %w", err)
	}
	return app, nil
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var decoded chatResponse
	if decErr := json.Unmarshal(raw, &decoded); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func applicationResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "rental_application",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"name":{"type":"string"},
					"phone":{"type":"string"},
					"residents_info":{"type":"string"},
					"residents_count":{"type":"integer"},
					"has_children":{"type":"boolean"},
					"children_details":{"type":"string"},
					"has_pets":{"type":"boolean"},
					"pets_details":{"type":"string"},
					"rental_period":{"type":"string"},
					"move_in_deadline":{"type":"string"}
				},
				"required":["name","phone","residents_info","residents_count","has_children","children_details","has_pets","pets_details","rental_period","move_in_deadline"]
			}`),
		},
	}
}

func agentSystemPrompt(firstTurn bool) string {
	parts := []string{
		"Ты — Светлана, агент по аренде агентства недвижимости Skyline.",
		"Ты переписываешься с потенциальным арендатором на Авито от лица агентства.",
		"",
		"Твоя задача — вежливо, по одному вопросу за сообщение, собрать 7 пунктов:",
		"1) кто планирует проживать;",
		"2) сколько взрослых;",
		"3) есть ли дети (возраст);",
		"4) есть ли животные (какие);",
		"5) срок аренды;",
		"6) желаемая дата заезда;",
		"7) имя и номер телефона для связи.",
		"",
		"Правила:",
		"- Пиши коротко, по-деловому, без смайликов.",
		"- Не задавай вопрос, на который клиент уже ответил.",
		"- Не обсуждай цену и условия сделки, это делает собственница.",
		"- Когда все 7 пунктов собраны, поблагодари клиента, скажи, что передашь",
		"  заявку собственнице, и добавь в конец ответа маркер " + dialog.CompletionMarker + ".",
		"- Маркер служебный, клиент его не видит.",
	}
	if firstTurn {
		parts = append(parts, "",
			"Это первое сообщение в диалоге: поздоровайся, представься",
			"(«Здравствуйте, на связи Светлана, АН Skyline») и задай первый вопрос.")
	}
	return strings.Join(parts, "\n")
}

func extractionPrompt(transcript string) string {
	return strings.Join([]string{
		"Ниже переписка агента по аренде с клиентом. Извлеки из нее данные",
		"клиента и верни строго JSON по заданной схеме. Если поле не упоминалось,",
		"верни пустую строку, ноль или false.",
		"",
		"Переписка:",
		transcript,
	}, "\n")
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: secrets getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
