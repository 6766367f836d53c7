package cli

import (
	"bytes"
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/identity"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/receipts"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tsa/status" || r.Header.Get(constants.HeaderAPIKey) != "k1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"authentication failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"providers":[{"id":"digicert","healthy":true,"state":"healthy","latencyMs":42,"consecutive_failures":0}],
			"queue":{"depth":1,"in_flight":2,"max_queue_size":1000,"max_concurrent_dispatch":10},"uptime_seconds":60}`))
	}))
	defer srv.Close()

	t.Run("should render provider health", func(t *testing.T) {
		out, err := run(t, "status", "--url", srv.URL, "--api-key", "k1")
		require.NoError(t, err)
		assert.Contains(t, out, "digicert")
		assert.Contains(t, out, "1/1000")
	})

	t.Run("should surface the broker's error message", func(t *testing.T) {
		_, err := run(t, "status", "--url", srv.URL, "--api-key", "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "authentication failed")
	})

	t.Run("should require an api key", func(t *testing.T) {
		_, err := run(t, "status", "--url", srv.URL)
		assert.Error(t, err)
	})
}

func TestDrainCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer admin-token", r.Header.Get(constants.HeaderAuthorization))
		_, _ = w.Write([]byte(`{"success":true,"dispatched":3,"expired":1,"remaining":0}`))
	}))
	defer srv.Close()

	out, err := run(t, "drain", "--url", srv.URL, "--token", "admin-token")
	require.NoError(t, err)
	assert.Equal(t, "dispatched=3 expired=1 remaining=0\n", out)
}

func TestTokenMintCommand(t *testing.T) {
	t.Run("should mint a token the broker accepts", func(t *testing.T) {
		out, err := run(t, "token", "mint", "--secret", "s3cret", "--subject", "ops", "--ttl", "5m")
		require.NoError(t, err)

		verifier := identity.NewAdminTokenVerifier(config.AdminConfig{JWTSecret: "s3cret", Issuer: constants.ServiceName, Audience: "tsa-admin"})
		claims, err := verifier.Verify(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "ops", claims.Subject)
	})

	t.Run("should refuse without a secret", func(t *testing.T) {
		_, err := run(t, "token", "mint", "--subject", "ops")
		assert.Error(t, err)
	})
}

func TestTenantHashKeyCommand(t *testing.T) {
	out, err := run(t, "tenant", "hash-key", "tsa_live_acme")
	require.NoError(t, err)
	assert.Equal(t, identity.HashAPIKey("tsa_live_acme")+"\n", out)
}

func TestReceiptsCommands(t *testing.T) {
	dsn := "file:cli_receipts?mode=memory&cache=shared"
	db, err := receipts.OpenDB(config.ReceiptsConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	store, err := receipts.NewGormReceiptStore(db, logger.NewNoopLogger())
	require.NoError(t, err)

	req := models.NewTimestampRequest(bytes.Repeat([]byte{0xcd}, 32), models.HashSHA256, "", big.NewInt(9), "acme")
	res := models.NewTimestampResult("digicert", &models.ProviderResponse{
		Token:        []byte{0x30, 0x00},
		GenTime:      time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		PolicyOID:    "1.2.3.4.1",
		SerialNumber: big.NewInt(5),
	}, 1)
	require.NoError(t, store.Save(context.Background(), models.NewTimestampReceipt(req, res)))

	t.Run("should list a tenant's receipts", func(t *testing.T) {
		out, err := run(t, "receipts", "list", "acme", "--dsn", dsn)
		require.NoError(t, err)
		assert.Contains(t, out, "digicert")
		assert.Contains(t, out, "2026-10-18T09:30:00Z")
	})

	t.Run("should count receipts per provider", func(t *testing.T) {
		out, err := run(t, "receipts", "stats", "--dsn", dsn, "--json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"digicert":1}`, out)
	})
}
