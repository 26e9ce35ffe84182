package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/blimp/internal/types"
	"github.com/user/blimp/pkg/ledger"
)

const tracerName = "github.com/user/blimp/pkg/ledger/graphql"

const incrementMutation = `mutation IncrementBalance {
  incrementBalanceDiscordUser(input: {id: "%s"}) {
    id
    balance
  }
}`

// Client implements ledger.Ledger against a GraphQL endpoint authenticated
// with an x-api-key header.
type Client struct {
	config     *ledger.Config
	httpClient *http.Client
	tracer     trace.Tracer
}

// New creates a client. A zero timeout disables the request timeout.
func New(config *ledger.Config, timeout time.Duration) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
	}
}

type request struct {
	Query string `json:"query"`
}

type response struct {
	Data *struct {
		IncrementBalanceDiscordUser *ledger.Balance `json:"incrementBalanceDiscordUser"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// IncrementBalance runs the incrementBalanceDiscordUser mutation.
func (c *Client) IncrementBalance(ctx context.Context, userID types.Snowflake) (_ *ledger.Balance, err error) {
	ctx, span := c.tracer.Start(ctx, "ledger.IncrementBalance",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("user.id", string(userID))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// the id is interpolated into the query text
	if !userID.Valid() {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	body, err := json.Marshal(request{Query: fmt.Sprintf(incrementMutation, userID)})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

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
		return nil, &ledger.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	if out.Data == nil || out.Data.IncrementBalanceDiscordUser == nil {
		return nil, errors.New("no balance in response")
	}

	balance := out.Data.IncrementBalanceDiscordUser
	if balance.UserID == "" {
		return nil, errors.New("balance without user id in response")
	}
	span.SetAttributes(attribute.Int64("ledger.balance", balance.Amount))
	return balance, nil
}
