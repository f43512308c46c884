package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/linkkeeper/internal/strutil"
)

const (
	DefaultBaseURL = "https://users.roblox.com"
	defaultTimeout = 8 * time.Second
	maxBodyBytes   = 256 * 1024
)

// Client talks to the Roblox users API. It resolves usernames to numeric
// user ids and reads the profile description used for the link challenge.
type Client struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "linkkeeper/1.0"
	}
	return &Client{
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Timeout:   timeout,
		UserAgent: userAgent,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type userResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	IsBanned    bool   `json:"isBanned"`
}

type usernamesRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernamesResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		RequestedAs string `json:"requestedUsername"`
	} `json:"data"`
}

// ResolveSubjectID accepts either a numeric user id or a username. Numeric
// input is confirmed against the API so a typo cannot link a stranger.
func (c *Client) ResolveSubjectID(ctx context.Context, usernameOrID string) (int64, error) {
	in := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(usernameOrID), "@"))
	if in == "" {
		return 0, ErrNotFound
	}
	if id, err := strconv.ParseInt(in, 10, 64); err == nil && id > 0 {
		u, err := c.getUser(ctx, "resolve_id", id)
		if err != nil {
			return 0, err
		}
		return u.ID, nil
	}

	var out usernamesResponse
	status, err := c.do(ctx, "resolve_username", http.MethodPost, "/v1/usernames/users", usernamesRequest{
		Usernames:          []string{in},
		ExcludeBannedUsers: true,
	}, &out)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound || len(out.Data) == 0 || out.Data[0].ID <= 0 {
		return 0, ErrNotFound
	}
	return out.Data[0].ID, nil
}

// FetchProfileText returns the account's public description.
func (c *Client) FetchProfileText(ctx context.Context, subjectID int64) (string, error) {
	u, err := c.getUser(ctx, "fetch_profile", subjectID)
	if err != nil {
		return "", err
	}
	return u.Description, nil
}

func (c *Client) getUser(ctx context.Context, op string, id int64) (userResponse, error) {
	if id <= 0 {
		return userResponse{}, ErrNotFound
	}
	var u userResponse
	status, err := c.do(ctx, op, http.MethodGet, "/v1/users/"+strconv.FormatInt(id, 10), nil, &u)
	if err != nil {
		return userResponse{}, err
	}
	if status == http.StatusNotFound || u.ID <= 0 {
		return userResponse{}, ErrNotFound
	}
	return u, nil
}

// do performs one request with the client timeout. A 404 is reported through
// the status with a nil error; other non-2xx answers become UpstreamError.
func (c *Client) do(ctx context.Context, op, method, path string, body any, dst any) (int, error) {
	endpoint, err := url.JoinPath(c.BaseURL, path)
	if err != nil {
		return 0, &UpstreamError{Op: op, Err: fmt.Errorf("invalid base url: %w", err)}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, &UpstreamError{Op: op, Err: err}
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, bodyReader)
	if err != nil {
		return 0, &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, &UpstreamError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &UpstreamError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response: %s", snippet(raw)),
		}
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			return resp.StatusCode, &UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func snippet(b []byte) string {
	s := strutil.Ellipsize(string(b), 200)
	if s == "" {
		return "(empty body)"
	}
	return s
}
