package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TimestampReceipt is the durable record of an issued token. Only digests of the token and
// imprint are kept.
type TimestampReceipt struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string    `gorm:"index;size:64;not null" json:"tenant_id"`
	ProviderID    string    `gorm:"size:128;not null" json:"tsa_id"`
	HashAlgorithm string    `gorm:"size:64;not null" json:"hash_alg"`
	ImprintHex    string    `gorm:"index;size:1024;not null" json:"imprint"`
	Nonce         string    `gorm:"size:80" json:"nonce,omitempty"`
	PolicyOID     string    `gorm:"size:100" json:"policy_oid"`
	SerialNumber  string    `gorm:"size:80" json:"serial_number,omitempty"`
	GenTime       time.Time `gorm:"not null" json:"genTime"`
	TokenSHA256   string    `gorm:"size:64;not null" json:"token_sha256"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName pins the table name.
func (TimestampReceipt) TableName() string { return "timestamp_receipts" }

// NewTimestampReceipt builds a receipt for a completed request.
func NewTimestampReceipt(req *TimestampRequest, res *TimestampResult) *TimestampReceipt {
	sum := sha256.Sum256(res.Token)
	r := &TimestampReceipt{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID(),
		ProviderID:    res.TSAID,
		HashAlgorithm: req.HashAlg().String(),
		ImprintHex:    hex.EncodeToString(req.Imprint()),
		PolicyOID:     res.PolicyOID,
		GenTime:       res.GenTime,
		TokenSHA256:   hex.EncodeToString(sum[:]),
		Attempts:      res.Attempts,
	}
	if n := req.Nonce(); n != nil {
		r.Nonce = n.String()
	}
	if res.SerialNumber != nil {
		r.SerialNumber = res.SerialNumber.String()
	}
	return r
}
