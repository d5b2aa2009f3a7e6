package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// HTTPVerifier asks the external auth service who a bearer token belongs to.
type HTTPVerifier struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewHTTPVerifier(baseURL, serviceToken string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (v *HTTPVerifier) VerifyRole(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/api/v1/verify", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.serviceToken != "" {
		req.Header.Set("X-Service-Token", v.serviceToken)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth verify: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("auth verify: %d %s", resp.StatusCode, string(body))
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("auth verify: decode: %w", err)
	}
	role, err := store.ParseRole(out.Role)
	if err != nil {
		return nil, fmt.Errorf("auth verify: %w", err)
	}
	return &Principal{UserID: out.UserID, Role: role}, nil
}
