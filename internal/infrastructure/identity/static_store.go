package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/repository"
)

// StaticTenantStore serves tenants declared in configuration or a YAML tenants file.
// StaticTenantStore 提供在配置或 YAML 租户文件中声明的租户。
type StaticTenantStore struct {
	byHash map[string]*models.TenantRecord
	byID   map[string]*models.TenantRecord
}

var _ repository.TenantRepository = (*StaticTenantStore)(nil)

type tenantFile struct {
	Tenants []tenantEntry `yaml:"tenants"`
}

type tenantEntry struct {
	ID                string   `yaml:"id"`
	APIKeySHA256      string   `yaml:"api_key_sha256"`
	Permissions       []string `yaml:"permissions"`
	RateLimitPerMin   int64    `yaml:"rate_limit_per_minute"`
	AllowedPolicies   []string `yaml:"allowed_policies"`
	DefaultPolicy     string   `yaml:"default_policy"`
	AllowedHashAlgs   []string `yaml:"allowed_hash_algorithms"`
	MaxRequestsPerDay int64    `yaml:"max_requests_per_day"`
}

// NewStaticTenantStore builds a store from inline tenant configs.
func NewStaticTenantStore(tenants []config.TenantConfig) (*StaticTenantStore, error) {
	specs := make([]models.TenantSpec, 0, len(tenants))
	for _, t := range tenants {
		specs = append(specs, models.TenantSpec{
			ID:                t.ID,
			APIKeySHA256:      t.APIKeySHA256,
			Permissions:       t.Permissions,
			RateLimitPerMin:   t.RateLimitPerMin,
			AllowedPolicies:   t.AllowedPolicies,
			DefaultPolicy:     t.DefaultPolicy,
			AllowedHashAlgs:   t.AllowedHashAlgs,
			MaxRequestsPerDay: t.MaxRequestsPerDay,
		})
	}
	return newStaticStore(specs)
}

// LoadStaticTenantStore builds a store from the inline tenants plus those in path.
func LoadStaticTenantStore(path string, inline []config.TenantConfig) (*StaticTenantStore, error) {
	store, err := NewStaticTenantStore(inline)
	if err != nil || path == "" {
		return store, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	var file tenantFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenants file: %w", err)
	}
	for _, e := range file.Tenants {
		if err := store.add(models.TenantSpec(e)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStaticStore(specs []models.TenantSpec) (*StaticTenantStore, error) {
	s := &StaticTenantStore{
		byHash: make(map[string]*models.TenantRecord),
		byID:   make(map[string]*models.TenantRecord),
	}
	for _, spec := range specs {
		if err := s.add(spec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *StaticTenantStore) add(spec models.TenantSpec) error {
	if spec.ID == "" || spec.APIKeySHA256 == "" {
		return fmt.Errorf("tenant entry needs id and api_key_sha256")
	}
	rec := spec.Record()
	if _, dup := s.byID[rec.Tenant.ID]; dup {
		return fmt.Errorf("duplicate tenant id %q", rec.Tenant.ID)
	}
	if _, dup := s.byHash[rec.APIKeySHA256]; dup {
		return fmt.Errorf("tenant %q reuses another tenant's api key", rec.Tenant.ID)
	}
	s.byID[rec.Tenant.ID] = rec
	s.byHash[rec.APIKeySHA256] = rec
	return nil
}

// FindByAPIKeyHash resolves a key digest.
func (s *StaticTenantStore) FindByAPIKeyHash(_ context.Context, keyHash string) (*models.TenantRecord, error) {
	if rec, ok := s.byHash[strings.ToLower(keyHash)]; ok {
		return rec, nil
	}
	return nil, repository.ErrTenantNotFound
}

// FindByID resolves a tenant id.
func (s *StaticTenantStore) FindByID(_ context.Context, tenantID string) (*models.TenantRecord, error) {
	if rec, ok := s.byID[tenantID]; ok {
		return rec, nil
	}
	return nil, repository.ErrTenantNotFound
}

// Len returns the number of tenants.
func (s *StaticTenantStore) Len() int { return len(s.byID) }
