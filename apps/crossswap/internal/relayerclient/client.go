package relayerclient

import (
	"bufio"
	"bytes"
	"context"
	"crossswap/apps/crossswap/internal/api"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/model"
	"encoding/json"
	"fmt"
	"github.com/holiman/uint256"
	"io"
	"net/http"
	"net/url"
	"time"
)

// APIError is a non-2xx answer from the relayer, decoded from its error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relayer returned %d %s: %s", e.Status, e.Code, e.Message)
}

// RejectedError is a commit or rescue the relayer answered with accepted=false.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Code, e.Message)
}

// Client talks to the relayer HTTP API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client // no timeout, the event stream is long-lived
}

// NewClient creates a new relayer client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call relayer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope api.ErrorResponse
		_ = json.Unmarshal(data, &envelope)
		return &APIError{Status: resp.StatusCode, Code: envelope.Error, Message: envelope.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func orderPath(hash, suffix string) string {
	return "/api/orders/" + url.PathEscape(hash) + suffix
}

func (c *Client) RegisterResolver(ctx context.Context, address, name string, bond *uint256.Int) error {
	req := api.RegisterResolverRequest{Address: address, Name: name}
	if bond != nil {
		req.Bond = bond.Dec()
	}
	return c.do(ctx, http.MethodPost, "/api/resolvers", req, nil)
}

func (c *Client) Feed(ctx context.Context) (events.FeedSnapshot, error) {
	var feed events.FeedSnapshot
	err := c.do(ctx, http.MethodGet, "/api/feed", nil, &feed)
	return feed, err
}

func (c *Client) Order(ctx context.Context, hash string) (events.OrderView, error) {
	var view events.OrderView
	err := c.do(ctx, http.MethodGet, orderPath(hash, ""), nil, &view)
	return view, err
}

// Commit reports accepted=false with a *RejectedError carrying the reason.
func (c *Client) Commit(ctx context.Context, hash, resolver, sourceRef, destRef string) (bool, error) {
	return c.commitOrRescue(ctx, orderPath(hash, "/commit"), resolver, sourceRef, destRef)
}

func (c *Client) Rescue(ctx context.Context, hash, resolver, sourceRef, destRef string) (bool, error) {
	return c.commitOrRescue(ctx, orderPath(hash, "/rescue"), resolver, sourceRef, destRef)
}

func (c *Client) commitOrRescue(ctx context.Context, path, resolver, sourceRef, destRef string) (bool, error) {
	var resp api.CommitResponse
	err := c.do(ctx, http.MethodPost, path, api.CommitRequest{
		Resolver:     resolver,
		SourceEscrow: sourceRef,
		DestEscrow:   destRef,
	}, &resp)
	if err != nil {
		return false, err
	}
	if !resp.Accepted {
		return false, &RejectedError{Code: resp.Error, Message: resp.Message}
	}
	return true, nil
}

func (c *Client) DeployEscrow(ctx context.Context, hash, resolver string, side model.EscrowSide, amount *uint256.Int, escrowAddress string) error {
	return c.do(ctx, http.MethodPost, orderPath(hash, "/escrows"), api.DeployEscrowRequest{
		Resolver:      resolver,
		Side:          string(side),
		Amount:        amount.Dec(),
		EscrowAddress: escrowAddress,
	}, nil)
}

func (c *Client) Owed(ctx context.Context, hash, resolver string) (*uint256.Int, error) {
	var resp api.OwedResponse
	path := orderPath(hash, "/owed") + "?resolver=" + url.QueryEscape(resolver)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	owed, err := uint256.FromDecimal(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse owed amount %q: %w", resp.Amount, err)
	}
	return owed, nil
}

func (c *Client) EscrowsReady(ctx context.Context, hash, resolver, sourceEscrow, destEscrow string) error {
	return c.do(ctx, http.MethodPost, orderPath(hash, "/escrows/ready"), api.EscrowsReadyRequest{
		Resolver:     resolver,
		SourceEscrow: sourceEscrow,
		DestEscrow:   destEscrow,
	}, nil)
}

func (c *Client) Complete(ctx context.Context, hash, resolver, secret string) error {
	return c.do(ctx, http.MethodPost, orderPath(hash, "/complete"), api.CompleteRequest{
		Resolver: resolver,
		Secret:   secret,
	}, nil)
}

// Stream reads GET /api/events and calls handler for each event until ctx is
// done or the relayer closes the stream.
func (c *Client) Stream(ctx context.Context, handler func(events.SwapEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &APIError{Status: resp.StatusCode, Code: envelope.Error, Message: envelope.Message}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev events.SwapEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		handler(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	return ctx.Err()
}
