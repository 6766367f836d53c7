// Package provider implements the RFC 3161 transport to upstream timestamp authorities.
package provider

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/digitorus/timestamp"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

var (
	// ErrUnsupportedHashAlg is returned for a digest outside the allow-list.
	ErrUnsupportedHashAlg = errors.New("hash algorithm not supported by provider client")

	// ErrUpstreamStatus is returned when the TSA answers with a non-200 HTTP status.
	ErrUpstreamStatus = errors.New("upstream returned non-200 status")

	// ErrResponseTooLarge is returned when the TSA reply exceeds MaxProviderResponseBytes.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// RFC3161Client posts DER TimeStampReq messages over HTTP and parses the TimeStampResp.
type RFC3161Client struct {
	httpClient  *http.Client
	credentials service.CredentialSource
	logger      logger.Logger
}

// NewRFC3161Client creates a client. credentials may be nil when no provider needs basic
// auth. Per-call deadlines come from the context, so httpClient should carry no timeout.
func NewRFC3161Client(httpClient *http.Client, credentials service.CredentialSource, log logger.Logger) *RFC3161Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RFC3161Client{
		httpClient:  httpClient,
		credentials: credentials,
		logger:      log.WithComponent("rfc3161_client"),
	}
}

// Timestamp requests a token for req from provider p.
func (c *RFC3161Client) Timestamp(ctx context.Context, p *models.Provider, req *models.TimestampRequest) (*models.ProviderResponse, error) {
	hash, ok := req.HashAlg().CryptoHash()
	if !ok {
		return nil, ErrUnsupportedHashAlg
	}

	tsReq := timestamp.Request{
		HashAlgorithm: hash,
		HashedMessage: req.Imprint(),
		Certificates:  true,
		Nonce:         req.Nonce(),
	}
	if policy := req.ReqPolicy(); policy != "" {
		oid, ok := models.ParseOID(policy)
		if !ok {
			return nil, fmt.Errorf("invalid policy oid %q", policy)
		}
		tsReq.TSAPolicyOID = oid
	}

	return c.exchange(ctx, p, &tsReq)
}

// Probe sends a fixed SHA-256 request and reports the round trip latency.
func (c *RFC3161Client) Probe(ctx context.Context, p *models.Provider) (time.Duration, error) {
	digest := sha256.Sum256([]byte(constants.ProbeMessage))
	start := time.Now()
	_, err := c.exchange(ctx, p, &timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: digest[:],
	})
	return time.Since(start), err
}

func (c *RFC3161Client) exchange(ctx context.Context, p *models.Provider, tsReq *timestamp.Request) (*models.ProviderResponse, error) {
	der, err := tsReq.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp request: %w", err)
	}

	body, err := c.post(ctx, p, der)
	if err != nil {
		return nil, err
	}

	ts, err := timestamp.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp response: %w", err)
	}

	resp := &models.ProviderResponse{
		Token:        ts.RawToken,
		GenTime:      ts.Time,
		Accuracy:     ts.Accuracy,
		Nonce:        ts.Nonce,
		SerialNumber: ts.SerialNumber,
	}
	if len(ts.Policy) > 0 {
		resp.PolicyOID = ts.Policy.String()
	}
	return resp, nil
}

func (c *RFC3161Client) post(ctx context.Context, p *models.Provider, der []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(der))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", constants.ContentTypeTimestampQuery)
	httpReq.Header.Set("Accept", constants.ContentTypeTimestampReply)

	if p.CredentialPath != "" && c.credentials != nil {
		creds, err := c.credentials.Credentials(ctx, p.CredentialPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load provider credentials: %w", err)
		}
		httpReq.SetBasicAuth(creds.Username, creds.Password)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("timestamp request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, constants.MaxProviderResponseBytes))
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, constants.MaxProviderResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp response: %w", err)
	}
	if len(body) > constants.MaxProviderResponseBytes {
		return nil, ErrResponseTooLarge
	}

	c.logger.Debug(ctx, "Provider replied",
		logger.String("provider_id", p.ID),
		logger.Int("bytes", len(body)),
	)
	return body, nil
}
