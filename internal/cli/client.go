package cli

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

	"empires/internal/command"
	"empires/internal/game"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsDuplicate reports whether the server already applied a request with the
// same idempotency key.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "duplicate_request"
}

// IsTransport reports whether err happened before the API answered, which
// makes the request safe to queue and replay.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Profile(ctx context.Context) (game.Profile, error) {
	var out game.Profile
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/leaderboard?limit=%d", limit), nil, &out, "")
	return out.Rows, err
}

func (c *Client) ListAuctions(ctx context.Context, isClan bool) ([]game.Auction, error) {
	path := "/v1/auctions"
	if isClan {
		path = "/v1/auctions?clan=1"
	}
	var out struct {
		Auctions []game.Auction `json:"auctions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Auctions, err
}

func (c *Client) Auction(ctx context.Context, auctionID int64) (game.Auction, error) {
	var out game.Auction
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/auctions/%d", auctionID), nil, &out, "")
	return out, err
}

// Request is a write as it goes on the wire. empctl queues it verbatim when
// the API cannot be reached.
type Request struct {
	Method string
	Path   string
	Body   map[string]any
}

func BanRequest(userID int64, ban bool) Request {
	verb := "unban"
	if ban {
		verb = "ban"
	}
	return Request{Method: http.MethodPost, Path: fmt.Sprintf("/v1/admin/users/%d/%s", userID, verb)}
}

func RewardRequest(userID, amount int64) Request {
	return balanceRequest("reward", userID, amount)
}

func WithdrawRequest(userID, amount int64) Request {
	return balanceRequest("withdraw", userID, amount)
}

func balanceRequest(verb string, userID, amount int64) Request {
	return Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/v1/admin/users/%d/%s", userID, verb),
		Body:   map[string]any{"amount": amount},
	}
}

func CreateAuctionRequest(in game.CreateAuctionInput) Request {
	return Request{Method: http.MethodPost, Path: "/v1/admin/auctions", Body: map[string]any{
		"firm_type":        in.FirmType,
		"min_price":        in.MinPrice,
		"duration_minutes": in.DurationMinutes,
		"custom_name":      in.CustomName,
		"custom_income":    in.CustomIncome,
		"is_clan":          in.IsClan,
	}}
}

func SettleAuctionRequest(auctionID int64) Request {
	return Request{Method: http.MethodPost, Path: fmt.Sprintf("/v1/admin/auctions/%d/settle", auctionID)}
}

func (c *Client) Ban(ctx context.Context, userID int64, idem string) (command.BanState, error) {
	return send[command.BanState](ctx, c, BanRequest(userID, true), idem)
}

func (c *Client) Unban(ctx context.Context, userID int64, idem string) (command.BanState, error) {
	return send[command.BanState](ctx, c, BanRequest(userID, false), idem)
}

func (c *Client) Reward(ctx context.Context, userID, amount int64, idem string) (command.Balance, error) {
	return send[command.Balance](ctx, c, RewardRequest(userID, amount), idem)
}

func (c *Client) Withdraw(ctx context.Context, userID, amount int64, idem string) (command.Balance, error) {
	return send[command.Balance](ctx, c, WithdrawRequest(userID, amount), idem)
}

func (c *Client) CreateAuction(ctx context.Context, in game.CreateAuctionInput, idem string) (game.Auction, error) {
	return send[game.Auction](ctx, c, CreateAuctionRequest(in), idem)
}

func (c *Client) SettleAuction(ctx context.Context, auctionID int64, idem string) (game.SettleOutcome, error) {
	return send[game.SettleOutcome](ctx, c, SettleAuctionRequest(auctionID), idem)
}

func send[T any](ctx context.Context, c *Client, req Request, idem string) (T, error) {
	var out T
	var in any
	if req.Body != nil {
		in = req.Body
	}
	err := c.jsonRequest(ctx, req.Method, req.Path, in, &out, idem)
	return out, err
}

// Do sends an arbitrary request; queued writes are replayed through it.
func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Code != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
