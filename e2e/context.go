// Package e2e drives a fully wired in-memory board over HTTP with godog.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"

	"examboard/e2e/steps/common"
	"examboard/internal/app"
	"examboard/internal/platform/config"
	"examboard/internal/platform/logger"
)

// TestContext is the per-scenario world: one board, one server, and the last
// response.
type TestContext struct {
	board  *app.App
	server *httptest.Server

	cohort     *common.Cohort
	bearer     string
	lastStatus int
	lastBody   []byte
}

func NewTestContext() *TestContext {
	return &TestContext{}
}

// Start wires a fresh in-memory board for the scenario.
func (tc *TestContext) Start(ctx context.Context) error {
	cfg := config.Default()
	cfg.Auth.JWTSigningKey = "e2e-signing-key"
	cfg.Verification.PublicBaseURL = "http://board.test/verify"

	board, err := app.New(ctx, cfg, logger.NewWithWriter(io.Discard, "error", "json"))
	if err != nil {
		return err
	}
	tc.board = board
	tc.cohort = &common.Cohort{}
	tc.server = httptest.NewServer(board.Handler)
	return nil
}

func (tc *TestContext) Stop() {
	if tc.server != nil {
		tc.server.Close()
	}
	if tc.board != nil {
		_ = tc.board.Close()
	}
}

func (tc *TestContext) Board() *app.App { return tc.board }

func (tc *TestContext) Cohort() *common.Cohort { return tc.cohort }

// SignIn mints a bearer token for role.
func (tc *TestContext) SignIn(role string) error {
	token, err := tc.board.Services.Tokens.GenerateAccessToken(uuid.New(), role, time.Hour)
	if err != nil {
		return err
	}
	tc.bearer = token
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.server.URL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tc.bearer)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w (%s)", err, tc.lastBody)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}

// DecodeResponse unmarshals the last response into v.
func (tc *TestContext) DecodeResponse(v any) error {
	if err := json.Unmarshal(tc.lastBody, v); err != nil {
		return fmt.Errorf("decode response: %w (%s)", err, tc.lastBody)
	}
	return nil
}
