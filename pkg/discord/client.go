package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/blimp/internal/types"
)

// DefaultBaseURL is the REST API root used for outbound messages.
const DefaultBaseURL = "https://discord.com/api/v7"

const tracerName = "github.com/user/blimp/pkg/discord"

// APIError is a non-success response from the REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord API error (status %d): %s", e.StatusCode, e.Body)
}

// Client posts messages through the REST API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New creates a REST client. An empty baseURL selects DefaultBaseURL; a
// zero timeout disables the request timeout.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
}

type createMessageRequest struct {
	Content string `json:"content"`
	TTS     bool   `json:"tts"`
}

// SendMessage posts content to channelID and returns the created message
// as returned by the API.
func (c *Client) SendMessage(ctx context.Context, channelID types.Snowflake, content string) (_ json.RawMessage, err error) {
	ctx, span := c.tracer.Start(ctx, "discord.SendMessage",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("channel.id", string(channelID))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(createMessageRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/channels/" + url.PathEscape(string(channelID)) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("message sent", "channel_id", channelID, "response", string(respBody))
	return json.RawMessage(respBody), nil
}
