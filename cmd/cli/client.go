package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
)

const maxResponseBytes = 1 << 20

type authMode int

const (
	authAPIKey authMode = iota
	authAdmin
)

// brokerClient calls the broker's HTTP API.
type brokerClient struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

func newBrokerClient(v *viper.Viper) *brokerClient {
	return &brokerClient{
		baseURL: strings.TrimRight(v.GetString("url"), "/"),
		apiKey:  v.GetString("api-key"),
		token:   v.GetString("token"),
		http:    &http.Client{Timeout: v.GetDuration("timeout")},
	}
}

// do sends the request and decodes a 2xx body into out. Error bodies become Go errors
// carrying the broker's message.
func (c *brokerClient) do(ctx context.Context, method, path string, auth authMode, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	switch auth {
	case authAPIKey:
		if c.apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		req.Header.Set(constants.HeaderAPIKey, c.apiKey)
	case authAdmin:
		if c.token == "" {
			return fmt.Errorf("--token is required")
		}
		req.Header.Set(constants.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errors.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("broker answered %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("broker answered %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
