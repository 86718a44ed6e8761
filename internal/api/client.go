package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ponytojas/sensormap/internal/models"
)

const (
	tokenPath      = "/api/token"
	createUserPath = "/api/create_user"
	sensorsPath    = "/api/sensores"

	userAgent = "sensormap-client/1.0"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrAuthExpired
	}
	return string(t), nil
}

// Token is the token issuance response.
type Token struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Client talks to the sensor directory API.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewClient creates a client for baseURL. tokens may be nil when only
// ObtainToken is used.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ObtainToken exchanges credentials for a bearer token.
func (c *Client) ObtainToken(ctx context.Context, creds models.Credentials) (Token, error) {
	var tok Token
	status, body, err := c.do(ctx, http.MethodPost, tokenPath, creds, false)
	if err != nil {
		return tok, err
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return tok, ErrInvalidCredentials
	case !isSuccess(status):
		return tok, newStatusError(status, body)
	}

	if err := json.Unmarshal(body, &tok); err != nil {
		return tok, fmt.Errorf("%w: decode token: %v", ErrNetwork, err)
	}
	if tok.Access == "" {
		return tok, fmt.Errorf("%w: token response without access token", ErrNetwork)
	}
	return tok, nil
}

// CreateUser registers a new user. The call is bearer-authenticated.
func (c *Client) CreateUser(ctx context.Context, creds models.Credentials) error {
	status, body, err := c.do(ctx, http.MethodPost, createUserPath, creds, true)
	if err != nil {
		return err
	}
	return checkAuthed(status, body)
}

// ListSensors fetches every sensor known to the service.
func (c *Client) ListSensors(ctx context.Context) ([]models.Sensor, error) {
	status, body, err := c.do(ctx, http.MethodGet, sensorsPath, nil, true)
	if err != nil {
		return nil, err
	}
	if err := checkAuthed(status, body); err != nil {
		return nil, err
	}

	sensors := make([]models.Sensor, 0)
	if err := json.Unmarshal(body, &sensors); err != nil {
		return nil, fmt.Errorf("%w: decode sensors: %v", ErrNetwork, err)
	}
	return sensors, nil
}

// GetSensor fetches a single sensor by id.
func (c *Client) GetSensor(ctx context.Context, id int) (models.Sensor, error) {
	var sensor models.Sensor
	status, body, err := c.do(ctx, http.MethodGet, sensorsPath+"/"+strconv.Itoa(id)+"/", nil, true)
	if err != nil {
		return sensor, err
	}
	if status == http.StatusNotFound {
		return sensor, fmt.Errorf("%w: %d", ErrSensorNotFound, id)
	}
	if err := checkAuthed(status, body); err != nil {
		return sensor, err
	}

	if err := json.Unmarshal(body, &sensor); err != nil {
		return sensor, fmt.Errorf("%w: decode sensor: %v", ErrNetwork, err)
	}
	return sensor, nil
}

// CreateSensor registers a sensor and returns the stored record. The id of
// s is ignored; the service assigns one.
func (c *Client) CreateSensor(ctx context.Context, s models.Sensor) (models.Sensor, error) {
	s.ID = 0

	var created models.Sensor
	status, body, err := c.do(ctx, http.MethodPost, sensorsPath+"/", s, true)
	if err != nil {
		return created, err
	}
	if err := checkAuthed(status, body); err != nil {
		return created, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return created, fmt.Errorf("%w: decode sensor: %v", ErrNetwork, err)
	}
	return created, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, authed bool) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to serialize request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		if c.tokens == nil {
			return 0, nil, ErrAuthExpired
		}
		token, err := c.tokens.Token()
		if err != nil {
			return 0, nil, err
		}
		if token == "" {
			return 0, nil, ErrAuthExpired
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

func checkAuthed(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthExpired
	case !isSuccess(status):
		return newStatusError(status, body)
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func newStatusError(status int, body []byte) *StatusError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return &StatusError{StatusCode: status, Body: text}
}
