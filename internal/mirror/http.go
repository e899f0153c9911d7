package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

const (
	passwordPath  = "/users/password"
	apiKeyHeader  = "X-API-Key"
	maxErrorBytes = 512
)

type setPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HTTPStore issues PUT {base}/users/password against the mirror's API.
type HTTPStore struct {
	BaseURL    string
	apiKey     string
	HTTPClient *http.Client
	logger     *zap.Logger
}

func NewHTTPStore(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPStore {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (s *HTTPStore) SetPassword(ctx context.Context, email, value string) error {
	body, err := json.Marshal(setPasswordRequest{Email: email, Password: value})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", model.ErrRemote, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+passwordPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", model.ErrRemote, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set(apiKeyHeader, s.apiKey)
	}

	start := time.Now()
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.logger.Error("Mirror store unreachable",
			util.Email(email), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return fmt.Errorf("%w: %v", model.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		s.logger.Error("Mirror store rejected password update",
			util.Email(email),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)))
		return fmt.Errorf("%w: status %d", model.ErrRemote, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("Mirror password updated",
		util.Email(email), zap.Duration("elapsed", time.Since(start)))
	return nil
}
