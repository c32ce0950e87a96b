// Package client is an HTTP client for the attempt API. The session cookie
// returned by CreateAttempt is kept in a cookie jar, so one Client drives
// exactly one attempt at a time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/model"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// Client talks to /api/v1/attempts.
type Client struct {
	base string
	http *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a Client with its own cookie jar.
func New(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	h := &http.Client{Jar: jar}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), http: h}, nil
}

// CreateAttempt opens an attempt and stores its session cookie.
func (c *Client) CreateAttempt(ctx context.Context, examID, studentID uuid.UUID) (*model.ExamAttempt, error) {
	var out struct {
		Attempt model.ExamAttempt `json:"attempt"`
	}
	body := map[string]string{"exam_id": examID.String(), "student_id": studentID.String()}
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/attempts", body, &out); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return &out.Attempt, nil
}

// Current returns the attempt bound to the session cookie.
func (c *Client) Current(ctx context.Context) (*model.AttemptSummary, error) {
	var out model.AttemptSummary
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/attempts/current", nil, &out); err != nil {
		return nil, fmt.Errorf("current attempt: %w", err)
	}
	return &out, nil
}

// Flush writes one batch of selections. It satisfies autosave.Flusher.
func (c *Client) Flush(ctx context.Context, answers []model.AnswerSelection) error {
	if _, err := c.do(ctx, http.MethodPut, "/api/v1/attempts/current/answers", map[string]any{"answers": answers}, nil); err != nil {
		return fmt.Errorf("submit answers: %w", err)
	}
	return nil
}

// Grade grades the bound attempt. With finalSubmit the session cookie is
// revoked by the server.
func (c *Client) Grade(ctx context.Context, finalSubmit bool) (*model.GradeResult, error) {
	var out model.GradeResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/attempts/grade", map[string]bool{"final_submit": finalSubmit}, &out); err != nil {
		return nil, fmt.Errorf("grade attempt: %w", err)
	}
	return &out, nil
}

// GradeByID grades an attempt without a session cookie.
func (c *Client) GradeByID(ctx context.Context, attemptID uuid.UUID) (*model.GradeResult, error) {
	var out model.GradeResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/attempts/grade", map[string]string{"attempt_id": attemptID.String()}, &out); err != nil {
		return nil, fmt.Errorf("grade attempt: %w", err)
	}
	return &out, nil
}

// Feedback returns per-question results for a graded attempt.
func (c *Client) Feedback(ctx context.Context, attemptID uuid.UUID) (*model.Feedback, error) {
	var out model.Feedback
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/attempts/"+attemptID.String()+"/feedback", nil, &out); err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return res.StatusCode, fmt.Errorf("decode response (%s): %w", res.Status, err)
	}
	if res.StatusCode/100 != 2 {
		apiErr := &APIError{Status: res.StatusCode}
		if env.Error != nil {
			apiErr.Code, apiErr.Message, apiErr.Fields = env.Error.Code, env.Error.Message, env.Error.Fields
		}
		return res.StatusCode, apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return res.StatusCode, fmt.Errorf("decode data: %w", err)
		}
	}
	return res.StatusCode, nil
}
