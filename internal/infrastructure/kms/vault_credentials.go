// Package kms sources upstream provider secrets from HashiCorp Vault.
package kms

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// ErrCredentialsNotFound is returned when the secret or one of its fields is missing.
var ErrCredentialsNotFound = errors.New("provider credentials not found")

// VaultCredentialSource reads provider basic auth secrets from a KV v2 mount and keeps
// them in a short-lived in-memory cache.
type VaultCredentialSource struct {
	client    *vault.Client
	mountPath string
	cache     *cache.Cache
	sf        singleflight.Group
	logger    logger.Logger
}

// NewVaultClient creates a Vault API client from config.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return client, nil
}

// NewVaultCredentialSource creates a credential source.
func NewVaultCredentialSource(client *vault.Client, cfg config.VaultConfig, log logger.Logger) *VaultCredentialSource {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	return &VaultCredentialSource{
		client:    client,
		mountPath: mount,
		cache:     cache.New(ttl, 2*ttl),
		logger:    log.WithComponent("vault_credentials"),
	}
}

// Credentials returns the username and password stored at credentialPath.
func (s *VaultCredentialSource) Credentials(ctx context.Context, credentialPath string) (*models.ProviderCredentials, error) {
	if v, ok := s.cache.Get(credentialPath); ok {
		return v.(*models.ProviderCredentials), nil
	}

	v, err, _ := s.sf.Do(credentialPath, func() (interface{}, error) {
		creds, err := s.read(ctx, credentialPath)
		if err != nil {
			return nil, err
		}
		s.cache.SetDefault(credentialPath, creds)
		return creds, nil
	})
	if err != nil {
		s.logger.Warn(ctx, "Failed to read provider credentials",
			logger.String("credential_path", credentialPath),
			logger.Error(err),
		)
		return nil, err
	}
	return v.(*models.ProviderCredentials), nil
}

// Invalidate drops a cached secret so the next call reads Vault again.
func (s *VaultCredentialSource) Invalidate(credentialPath string) {
	s.cache.Delete(credentialPath)
}

func (s *VaultCredentialSource) read(ctx context.Context, credentialPath string) (*models.ProviderCredentials, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, path.Join(s.mountPath, "data", credentialPath))
	if err != nil {
		return nil, fmt.Errorf("could not read provider credentials from vault: %w", err)
	}
	if secret == nil || secret.Data["data"] == nil {
		return nil, ErrCredentialsNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format in vault")
	}
	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if username == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	return &models.ProviderCredentials{Username: username, Password: password}, nil
}
