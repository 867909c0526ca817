package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const maxResponseBytes = 4 << 20

// StatusError is a non-2xx API response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Message)
}

// hasStatus reports whether err is an API response with the given status.
func hasStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

type client struct {
	http *http.Client
	base string
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}, base: baseURL}
}

// do sends in as JSON (when non-nil) and decodes a 2xx body into out.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Status: resp.StatusCode}
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil {
			se.Code, se.Message = apiErr.Code, apiErr.Message
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

type question struct {
	ID          string `json:"id"`
	OfficialID  string `json:"official_id"`
	Status      string `json:"status"`
	TotalBounty int64  `json:"total_bounty"`
}

type wallet struct {
	Account account `json:"account"`
	Stats   struct {
		TotalStaked       int64 `json:"total_staked"`
		CurrentlyHeld     int64 `json:"currently_held"`
		ReleasedToCharity int64 `json:"released_to_charity"`
		Refunded          int64 `json:"refunded"`
	} `json:"stats"`
}

func (c *client) register(ctx context.Context, name, role string) (account, error) {
	var a account
	err := c.do(ctx, http.MethodPost, "/accounts", map[string]string{"name": name, "role": role}, &a)
	return a, err
}

func (c *client) credit(ctx context.Context, accountID string, amount int64) error {
	return c.do(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountID)+"/credits",
		map[string]int64{"amount": amount}, nil)
}

func (c *client) wallet(ctx context.Context, accountID string) (wallet, error) {
	var w wallet
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/wallet", nil, &w)
	return w, err
}

func (c *client) openQuestion(ctx context.Context, title, body, citizenID, officialID string, stake int64) (question, error) {
	var q question
	err := c.do(ctx, http.MethodPost, "/questions", map[string]any{
		"title":         title,
		"body":          body,
		"citizen_id":    citizenID,
		"official_id":   officialID,
		"initial_stake": stake,
	}, &q)
	return q, err
}

func (c *client) question(ctx context.Context, id string) (question, error) {
	var q question
	err := c.do(ctx, http.MethodGet, "/questions/"+url.PathEscape(id), nil, &q)
	return q, err
}

func (c *client) stake(ctx context.Context, questionID, accountID string, amount int64) error {
	return c.do(ctx, http.MethodPost, "/questions/"+url.PathEscape(questionID)+"/stakes",
		map[string]any{"account_id": accountID, "amount": amount}, nil)
}

func (c *client) answer(ctx context.Context, questionID, officialID, content string) (answerID string, released bool, err error) {
	var resp struct {
		Answer struct {
			ID string `json:"id"`
		} `json:"answer"`
		Released bool `json:"released"`
	}
	err = c.do(ctx, http.MethodPost, "/questions/"+url.PathEscape(questionID)+"/answers",
		map[string]string{"official_id": officialID, "content": content}, &resp)
	return resp.Answer.ID, resp.Released, err
}

func (c *client) vote(ctx context.Context, answerID, citizenID string, helpful bool) (bool, error) {
	var resp struct {
		Released bool `json:"released"`
	}
	err := c.do(ctx, http.MethodPost, "/answers/"+url.PathEscape(answerID)+"/votes",
		map[string]any{"citizen_id": citizenID, "is_helpful": helpful}, &resp)
	return resp.Released, err
}

func (c *client) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	err := c.do(ctx, http.MethodPost, "/sweeps", nil, &res)
	return res, err
}

func (c *client) leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *client) rank(ctx context.Context, officialID string) (Entry, error) {
	var e Entry
	err := c.do(ctx, http.MethodGet, "/rank/"+url.PathEscape(officialID), nil, &e)
	return e, err
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
