// Package client talks to the race registration backend. Reads go to the query
// service and writes to the command service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10

	racesPath        = "/api/v1/races"
	applicationsPath = "/api/v1/applications"
	tokenPath        = "/auth/token"
)

// Client is a JSON client for the backend REST API.
type Client struct {
	queryURL   string
	commandURL string
	http       *http.Client
	logger     logger.Logger
}

// New creates a client for the given query and command base URLs.
func New(queryURL, commandURL string, opts ...Option) *Client {
	c := &Client{
		queryURL:   strings.TrimRight(queryURL, "/"),
		commandURL: strings.TrimRight(commandURL, "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		logger:     logger.Get().Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IssueToken exchanges an email and role for a bearer token.
func (c *Client) IssueToken(ctx context.Context, email, role string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	req := call{
		endpoint: "auth_token",
		method:   http.MethodPost,
		url:      c.commandURL + tokenPath,
		body:     map[string]string{"email": email, "role": role},
		accept:   []int{http.StatusOK},
		out:      &out,
	}
	if err := c.do(ctx, req); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: token missing from %s response", failure.ErrMalformedResponse, tokenPath)
	}
	return out.Token, nil
}

// ListRaces returns every race known to the query service.
func (c *Client) ListRaces(ctx context.Context, token string) ([]model.Race, error) {
	var out []model.Race
	err := c.do(ctx, call{
		endpoint: "races",
		method:   http.MethodGet,
		url:      c.queryURL + racesPath,
		token:    token,
		accept:   []int{http.StatusOK},
		out:      &out,
	})
	return out, err
}

// CreateRace submits a new race.
func (c *Client) CreateRace(ctx context.Context, token string, draft model.RaceDraft) (model.Race, error) {
	var out model.Race
	err := c.do(ctx, call{
		endpoint: "races",
		method:   http.MethodPost,
		url:      c.commandURL + racesPath,
		token:    token,
		body:     draft,
		accept:   []int{http.StatusOK, http.StatusCreated},
		out:      &out,
	})
	return out, err
}

// PatchRace applies a partial update to race id.
func (c *Client) PatchRace(ctx context.Context, token, id string, patch model.RacePatch) (model.Race, error) {
	var out model.Race
	err := c.do(ctx, call{
		endpoint: "race",
		method:   http.MethodPatch,
		url:      c.commandURL + racesPath + "/" + url.PathEscape(id),
		token:    token,
		body:     patch,
		accept:   []int{http.StatusOK},
		out:      &out,
	})
	return out, err
}

// DeleteRace deletes race id.
func (c *Client) DeleteRace(ctx context.Context, token, id string) error {
	return c.do(ctx, call{
		endpoint: "race",
		method:   http.MethodDelete,
		url:      c.commandURL + racesPath + "/" + url.PathEscape(id),
		token:    token,
		accept:   []int{http.StatusOK, http.StatusNoContent},
	})
}

// ListApplications returns the applications visible to the token holder.
func (c *Client) ListApplications(ctx context.Context, token string) ([]model.Application, error) {
	var out []model.Application
	err := c.do(ctx, call{
		endpoint: "applications",
		method:   http.MethodGet,
		url:      c.queryURL + applicationsPath,
		token:    token,
		accept:   []int{http.StatusOK},
		out:      &out,
	})
	return out, err
}

// CreateApplication submits a registration. The command service may answer 202
// with only the assigned id.
func (c *Client) CreateApplication(ctx context.Context, token string, form model.RegistrationForm) (model.Application, error) {
	var out model.Application
	err := c.do(ctx, call{
		endpoint: "applications",
		method:   http.MethodPost,
		url:      c.commandURL + applicationsPath,
		token:    token,
		body:     form,
		accept:   []int{http.StatusOK, http.StatusCreated, http.StatusAccepted},
		out:      &out,
	})
	return out, err
}

// DeleteApplication withdraws application id.
func (c *Client) DeleteApplication(ctx context.Context, token, id string) error {
	return c.do(ctx, call{
		endpoint: "application",
		method:   http.MethodDelete,
		url:      c.commandURL + applicationsPath + "/" + url.PathEscape(id),
		token:    token,
		accept:   []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent},
	})
}

type call struct {
	endpoint string
	method   string
	url      string
	token    string
	body     any
	accept   []int
	out      any
}

func (c *Client) do(ctx context.Context, in call) error {
	var body io.Reader
	if in.body != nil {
		data, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, in.method, in.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if in.token != "" {
		req.Header.Set("Authorization", "Bearer "+in.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordClientRequestDuration(in.endpoint, in.method, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordClientRequest(in.endpoint, in.method, "error")
		c.logger.Debug(ctx, "request failed",
			logger.String("method", in.method),
			logger.String("url", in.url),
			logger.Error(err),
		)
		return err
	}
	defer resp.Body.Close()
	metrics.RecordClientRequest(in.endpoint, in.method, strconv.Itoa(resp.StatusCode))

	if !slices.Contains(in.accept, resp.StatusCode) {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			c.logger.Debug(ctx, "error body unreadable",
				logger.String("method", in.method),
				logger.String("url", in.url),
				logger.Int("read", len(data)),
				logger.Error(err),
			)
		}
		c.logger.Debug(ctx, "unexpected status",
			logger.String("method", in.method),
			logger.String("url", in.url),
			logger.Int("status", resp.StatusCode),
		)
		return &StatusError{Method: in.method, URL: in.url, Status: resp.StatusCode, Body: data}
	}

	if in.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// 201/202 without a body; callers keep their speculative value.
		return nil
	}
	if err := json.Unmarshal(data, in.out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", failure.ErrMalformedResponse, in.method, in.url, err)
	}
	return nil
}
