package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/utils"
)

var (
	base64Pattern   = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)
	tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	noncePattern    = regexp.MustCompile(`^[0-9]+$`)

	// maxNonce is 2^256 - 1.
	maxNonce = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var allowedFields = map[string]struct{}{
	constants.FieldImprint:   {},
	constants.FieldHashAlg:   {},
	constants.FieldReqPolicy: {},
	constants.FieldNonce:     {},
	constants.FieldTenantID:  {},
}

// RequestValidator turns an untrusted sign payload into a TimestampRequest. It is pure: no
// I/O, no shared state, safe for concurrent use.
// RequestValidator 将不可信的签名请求负载转换为 TimestampRequest。
// 它是纯函数式的：没有 I/O，没有共享状态，可并发使用。
type RequestValidator struct{}

// NewRequestValidator creates a validator.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{}
}

// Validate parses and validates a raw JSON body.
func (v *RequestValidator) Validate(raw []byte) (*models.TimestampRequest, error) {
	fields, err := v.Parse(raw)
	if err != nil {
		return nil, err
	}
	return v.ValidateFields(fields)
}

// Parse decodes the body into its top-level fields without validating them.
func (v *RequestValidator) Parse(raw []byte) (map[string]json.RawMessage, error) {
	if len(raw) > constants.MaxSignBodyBytes {
		return nil, errors.ErrValidation(constants.MsgBodyTooLarge, "")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.ErrValidation(constants.MsgMalformedBody, "")
	}
	return fields, nil
}

// ValidateFields applies the schema and per-field rules in order: closed schema, imprint,
// hashAlg, reqPolicy, nonce, tenant_id. The first violation is returned.
func (v *RequestValidator) ValidateFields(fields map[string]json.RawMessage) (*models.TimestampRequest, error) {
	values, err := stringFields(fields)
	if err != nil {
		return nil, err
	}

	imprint, err := validateImprint(values)
	if err != nil {
		return nil, err
	}
	hashAlg, err := validateHashAlg(values)
	if err != nil {
		return nil, err
	}
	policy, err := validatePolicy(values)
	if err != nil {
		return nil, err
	}
	nonce, err := validateNonce(values)
	if err != nil {
		return nil, err
	}
	tenantID, err := validateTenantID(values)
	if err != nil {
		return nil, err
	}

	return models.NewTimestampRequest(imprint, hashAlg, policy, nonce, tenantID), nil
}

// DeclaredTenant extracts tenant_id for authorization before full validation. Anything but
// a JSON string yields "".
func DeclaredTenant(fields map[string]json.RawMessage) string {
	raw, ok := fields[constants.FieldTenantID]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func stringFields(fields map[string]json.RawMessage) (map[string]string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]string, len(fields))
	for _, name := range names {
		if _, ok := allowedFields[name]; !ok {
			return nil, errors.ErrValidation(constants.MsgUnknownField, name)
		}
		raw := bytes.TrimSpace(fields[name])
		var s string
		if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
			return nil, errors.ErrValidation(constants.MsgFieldNotString, name)
		}
		values[name] = s
	}
	return values, nil
}

// stripControl removes whitespace and control characters only.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func validateImprint(values map[string]string) ([]byte, error) {
	raw, ok := values[constants.FieldImprint]
	if !ok {
		return nil, errors.ErrValidation(constants.MsgImprintRequired, "")
	}
	cleaned := stripControl(raw)
	if cleaned == "" {
		return nil, errors.ErrValidation(constants.MsgImprintRequired, "")
	}
	if len(cleaned)%4 != 0 ||
		strings.Contains(cleaned, "..") ||
		strings.Contains(cleaned, "//") ||
		!base64Pattern.MatchString(cleaned) {
		return nil, errors.ErrValidation(constants.MsgImprintEncoding, raw)
	}
	decoded, err := base64.StdEncoding.Strict().DecodeString(cleaned)
	if err != nil {
		return nil, errors.ErrValidation(constants.MsgImprintEncoding, raw)
	}
	if len(decoded) < constants.MinImprintBytes || len(decoded) > constants.MaxImprintBytes {
		return nil, errors.ErrValidation(constants.MsgImprintLength, "")
	}
	if bytes.IndexByte(decoded, 0x00) >= 0 {
		return nil, errors.ErrValidation(constants.MsgImprintNullByte, "")
	}
	return decoded, nil
}

func validateHashAlg(values map[string]string) (models.HashAlgorithm, error) {
	raw, ok := values[constants.FieldHashAlg]
	if !ok || raw == "" {
		return "", errors.ErrValidation(constants.MsgHashAlgRequired, "")
	}
	alg := models.HashAlgorithm(raw)
	if _, ok := alg.CryptoHash(); !ok {
		return "", errors.ErrValidation(constants.MsgHashAlgUnsupported, raw)
	}
	return alg, nil
}

func validatePolicy(values map[string]string) (string, error) {
	raw, ok := values[constants.FieldReqPolicy]
	if !ok || raw == "" {
		return "", nil
	}
	if len(raw) > constants.MaxPolicyOIDLength || !utils.IsDottedOID(raw) {
		return "", errors.ErrValidation(constants.MsgPolicyInvalid, raw)
	}
	return raw, nil
}

func validateNonce(values map[string]string) (*big.Int, error) {
	raw, ok := values[constants.FieldNonce]
	if !ok || raw == "" {
		return nil, nil
	}
	if len(raw) > constants.MaxNonceDigits || !noncePattern.MatchString(raw) {
		return nil, errors.ErrValidation(constants.MsgNonceInvalid, raw)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.ErrValidation(constants.MsgNonceInvalid, raw)
	}
	if n.Cmp(maxNonce) > 0 {
		return nil, errors.ErrValidation(constants.MsgNonceRange, raw)
	}
	return n, nil
}

func validateTenantID(values map[string]string) (string, error) {
	raw, ok := values[constants.FieldTenantID]
	if !ok ||
		!tenantIDPattern.MatchString(raw) ||
		strings.HasPrefix(raw, "-") ||
		strings.HasSuffix(raw, "-") {
		return "", errors.ErrValidation(constants.MsgTenantIDInvalid, raw)
	}
	return raw, nil
}
