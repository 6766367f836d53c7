// Package models defines the domain models for the TSA aggregation broker.
package models

import (
	"crypto"
	"encoding/asn1"
	"math/big"
	"strconv"
	"strings"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// HashAlgorithm is a digest algorithm identified by its dotted OID.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = constants.OIDSHA256
	HashSHA384 HashAlgorithm = constants.OIDSHA384
	HashSHA512 HashAlgorithm = constants.OIDSHA512
)

// AllowedHashAlgorithms is the complete allow-list of accepted digests.
var AllowedHashAlgorithms = map[HashAlgorithm]crypto.Hash{
	HashSHA256: crypto.SHA256,
	HashSHA384: crypto.SHA384,
	HashSHA512: crypto.SHA512,
}

// CryptoHash maps the algorithm to its crypto.Hash, reporting false for anything outside
// the allow-list.
func (h HashAlgorithm) CryptoHash() (crypto.Hash, bool) {
	ch, ok := AllowedHashAlgorithms[h]
	return ch, ok
}

// String returns the dotted OID.
func (h HashAlgorithm) String() string { return string(h) }

// TimestampRequest is a validated, normalized timestamp request. It is only ever built by
// the request validator and is read-only afterwards: accessors hand out copies.
type TimestampRequest struct {
	imprint   []byte
	hashAlg   HashAlgorithm
	reqPolicy string
	nonce     *big.Int
	tenantID  string
}

// NewTimestampRequest assembles a request from already validated parts. The slices and
// big.Int are copied so later mutation by the caller cannot leak in.
func NewTimestampRequest(imprint []byte, hashAlg HashAlgorithm, reqPolicy string, nonce *big.Int, tenantID string) *TimestampRequest {
	req := &TimestampRequest{
		imprint:   append([]byte(nil), imprint...),
		hashAlg:   hashAlg,
		reqPolicy: reqPolicy,
		tenantID:  tenantID,
	}
	if nonce != nil {
		req.nonce = new(big.Int).Set(nonce)
	}
	return req
}

// Imprint returns a copy of the digest bytes.
func (r *TimestampRequest) Imprint() []byte { return append([]byte(nil), r.imprint...) }

// HashAlg returns the digest algorithm.
func (r *TimestampRequest) HashAlg() HashAlgorithm { return r.hashAlg }

// ReqPolicy returns the requested policy OID, empty when none was given.
func (r *TimestampRequest) ReqPolicy() string { return r.reqPolicy }

// HasNonce reports whether the client supplied a nonce.
func (r *TimestampRequest) HasNonce() bool { return r.nonce != nil }

// Nonce returns a copy of the nonce, nil when none was given.
func (r *TimestampRequest) Nonce() *big.Int {
	if r.nonce == nil {
		return nil
	}
	return new(big.Int).Set(r.nonce)
}

// TenantID returns the declared tenant.
func (r *TimestampRequest) TenantID() string { return r.tenantID }

// ImprintSize returns the decoded imprint length without copying.
func (r *TimestampRequest) ImprintSize() int { return len(r.imprint) }

// ParseOID converts a dotted OID string into an asn1.ObjectIdentifier.
func ParseOID(s string) (asn1.ObjectIdentifier, bool) {
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, false
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		oid[i] = n
	}
	return oid, true
}
