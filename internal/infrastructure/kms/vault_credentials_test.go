package kms_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/kms"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func newVaultServer(t *testing.T, body string, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/secret/data/tsa/digicert" || r.Header.Get("X-Vault-Token") != "dev-token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func newSource(t *testing.T, addr string) *kms.VaultCredentialSource {
	t.Helper()
	cfg := config.VaultConfig{Address: addr, Token: "dev-token", MountPath: "secret", CacheTTL: time.Minute}
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)
	return kms.NewVaultCredentialSource(client, cfg, logger.NewNoopLogger())
}

func TestVaultCredentialSource(t *testing.T) {
	ctx := context.Background()

	t.Run("should read and cache credentials", func(t *testing.T) {
		ts, calls := newVaultServer(t, `{"data":{"data":{"username":"broker","password":"s3cret"},"metadata":{"version":1}}}`, http.StatusOK)
		source := newSource(t, ts.URL)

		creds, err := source.Credentials(ctx, "tsa/digicert")
		require.NoError(t, err)
		assert.Equal(t, "broker", creds.Username)
		assert.Equal(t, "s3cret", creds.Password)

		_, err = source.Credentials(ctx, "tsa/digicert")
		require.NoError(t, err)
		assert.Equal(t, int64(1), calls.Load())

		source.Invalidate("tsa/digicert")
		_, err = source.Credentials(ctx, "tsa/digicert")
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("should reject a secret without a password", func(t *testing.T) {
		ts, _ := newVaultServer(t, `{"data":{"data":{"username":"broker"}}}`, http.StatusOK)
		source := newSource(t, ts.URL)

		_, err := source.Credentials(ctx, "tsa/digicert")
		assert.True(t, errors.Is(err, kms.ErrCredentialsNotFound))
	})

	t.Run("should surface vault failures", func(t *testing.T) {
		ts, _ := newVaultServer(t, `{"errors":["permission denied"]}`, http.StatusForbidden)
		source := newSource(t, ts.URL)

		_, err := source.Credentials(ctx, "tsa/digicert")
		assert.Error(t, err)
	})
}
