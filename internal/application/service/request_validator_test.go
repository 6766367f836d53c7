package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
)

func imprintOf(n int) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xab}, n))
}

func validFields() map[string]interface{} {
	return map[string]interface{}{
		"imprint":   imprintOf(32),
		"hashAlg":   constants.OIDSHA256,
		"tenant_id": "acme",
		"nonce":     "42",
	}
}

func bodyOf(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func with(key string, value interface{}) map[string]interface{} {
	f := validFields()
	if value == nil {
		delete(f, key)
	} else {
		f[key] = value
	}
	return f
}

func assertValidation(t *testing.T, err error, message string) {
	t.Helper()
	tsaErr, ok := errors.AsTSAError(err)
	require.True(t, ok, "expected TSAError, got %v", err)
	assert.Equal(t, constants.ErrCodeValidation, tsaErr.Code())
	assert.Equal(t, 400, tsaErr.HTTPStatus())
	assert.True(t, strings.HasPrefix(tsaErr.Description(), message), "description %q", tsaErr.Description())
}

func TestRequestValidator_Valid(t *testing.T) {
	v := NewRequestValidator()

	t.Run("should accept a minimal SHA-256 request", func(t *testing.T) {
		req, err := v.Validate(bodyOf(t, with("nonce", nil)))
		require.NoError(t, err)
		assert.Equal(t, models.HashSHA256, req.HashAlg())
		assert.Equal(t, 32, req.ImprintSize())
		assert.Equal(t, "acme", req.TenantID())
		assert.False(t, req.HasNonce())
		assert.Empty(t, req.ReqPolicy())
	})

	t.Run("should accept SHA-384 and SHA-512", func(t *testing.T) {
		for _, alg := range []string{constants.OIDSHA384, constants.OIDSHA512} {
			_, err := v.Validate(bodyOf(t, with("hashAlg", alg)))
			assert.NoError(t, err, alg)
		}
	})

	t.Run("should strip whitespace and control characters from the imprint", func(t *testing.T) {
		clean := imprintOf(32)
		dirty := " " + clean[:10] + "\n\t" + clean[10:] + "\r\n"
		req, err := v.Validate(bodyOf(t, with("imprint", dirty)))
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{0xab}, 32), req.Imprint())
	})

	t.Run("should parse policy and nonce", func(t *testing.T) {
		f := validFields()
		f["reqPolicy"] = "1.3.6.1.4.1.4146.2.3"
		f["nonce"] = strings.Repeat("9", constants.MaxNonceDigits)
		req, err := v.Validate(bodyOf(t, f))
		require.NoError(t, err)
		assert.Equal(t, "1.3.6.1.4.1.4146.2.3", req.ReqPolicy())
		assert.Equal(t, strings.Repeat("9", 40), req.Nonce().String())
	})
}

func TestRequestValidator_Schema(t *testing.T) {
	v := NewRequestValidator()

	t.Run("should reject unknown fields", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("certReq", "true")))
		assertValidation(t, err, constants.MsgUnknownField)
	})

	t.Run("should reject non-string fields", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("nonce", 42)))
		assertValidation(t, err, constants.MsgFieldNotString)

		_, err = v.Validate(bodyOf(t, with("reqPolicy", nil)))
		require.NoError(t, err)

		_, err = v.Validate([]byte(`{"imprint":null,"hashAlg":"2.16.840.1.101.3.4.2.1","tenant_id":"acme"}`))
		assertValidation(t, err, constants.MsgFieldNotString)
	})

	t.Run("should reject malformed and non-object bodies", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `[]`, `"x"`, `{"imprint":`} {
			_, err := v.Validate([]byte(raw))
			assertValidation(t, err, constants.MsgMalformedBody)
		}
	})

	t.Run("should reject oversized bodies", func(t *testing.T) {
		_, err := v.Validate(bytes.Repeat([]byte(" "), constants.MaxSignBodyBytes+1))
		assertValidation(t, err, constants.MsgBodyTooLarge)
	})
}

func TestRequestValidator_Imprint(t *testing.T) {
	v := NewRequestValidator()

	t.Run("should enforce decoded length bounds", func(t *testing.T) {
		cases := map[int]bool{31: false, 32: true, 64: true, 512: true, 513: false}
		for n, ok := range cases {
			_, err := v.Validate(bodyOf(t, with("imprint", imprintOf(n))))
			if ok {
				assert.NoError(t, err, "length %d", n)
			} else {
				assertValidation(t, err, constants.MsgImprintLength)
			}
		}
	})

	t.Run("should require the imprint", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("imprint", nil)))
		assertValidation(t, err, constants.MsgImprintRequired)
		_, err = v.Validate(bodyOf(t, with("imprint", " \n ")))
		assertValidation(t, err, constants.MsgImprintRequired)
	})

	t.Run("should reject non-strict base64", func(t *testing.T) {
		urlSafe := strings.NewReplacer("+", "-", "/", "_").Replace(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xfb, 0xff}, 16)))
		for _, bad := range []string{
			imprintOf(32)[:43],
			urlSafe,
			"//" + imprintOf(32)[2:],
			imprintOf(32)[:40] + "..==",
		} {
			_, err := v.Validate(bodyOf(t, with("imprint", bad)))
			assertValidation(t, err, constants.MsgImprintEncoding)
		}
	})

	t.Run("should reject a null byte anywhere", func(t *testing.T) {
		raw := bytes.Repeat([]byte{0xab}, 32)
		raw[17] = 0x00
		_, err := v.Validate(bodyOf(t, with("imprint", base64.StdEncoding.EncodeToString(raw))))
		assertValidation(t, err, constants.MsgImprintNullByte)
	})
}

func TestRequestValidator_HashAlg(t *testing.T) {
	v := NewRequestValidator()

	t.Run("should reject SHA-1", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("hashAlg", constants.OIDSHA1)))
		assertValidation(t, err, constants.MsgHashAlgUnsupported)
	})

	t.Run("should reject MD5 and names", func(t *testing.T) {
		for _, bad := range []string{"1.2.840.113549.2.5", "SHA-256", "sha256"} {
			_, err := v.Validate(bodyOf(t, with("hashAlg", bad)))
			assertValidation(t, err, constants.MsgHashAlgUnsupported)
		}
	})

	t.Run("should require hashAlg", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("hashAlg", nil)))
		assertValidation(t, err, constants.MsgHashAlgRequired)
	})

	t.Run("should sanitize the echoed excerpt", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("hashAlg", "\x1b[31m\"evil\"é"+strings.Repeat("A", 40))))
		tsaErr, ok := errors.AsTSAError(err)
		require.True(t, ok)
		desc := tsaErr.Description()
		assert.NotContains(t, desc, "\x1b")
		assert.NotContains(t, desc, "é")
		assert.Contains(t, desc, "...")
	})
}

func TestRequestValidator_PolicyNonceTenant(t *testing.T) {
	v := NewRequestValidator()

	t.Run("should reject malformed policies", func(t *testing.T) {
		for _, bad := range []string{"1", "1.", ".1.2", "1..2", "01.2", "1.2.a", "1.2." + strings.Repeat("1", 100)} {
			_, err := v.Validate(bodyOf(t, with("reqPolicy", bad)))
			assertValidation(t, err, constants.MsgPolicyInvalid)
		}
	})

	t.Run("should reject malformed nonces", func(t *testing.T) {
		for _, bad := range []string{"-1", "0x10", "1e5", " 1", strings.Repeat("1", 41)} {
			_, err := v.Validate(bodyOf(t, with("nonce", bad)))
			assertValidation(t, err, constants.MsgNonceInvalid)
		}
	})

	t.Run("should reject malformed tenant ids", func(t *testing.T) {
		for _, bad := range []string{"-acme", "acme-", "ac me", "acme!", strings.Repeat("a", 65)} {
			_, err := v.Validate(bodyOf(t, with("tenant_id", bad)))
			assertValidation(t, err, constants.MsgTenantIDInvalid)
		}
		_, err := v.Validate(bodyOf(t, with("tenant_id", nil)))
		assertValidation(t, err, constants.MsgTenantIDInvalid)
	})

	t.Run("should accept tenant ids with inner dashes and underscores", func(t *testing.T) {
		_, err := v.Validate(bodyOf(t, with("tenant_id", "acme_prod-eu")))
		assert.NoError(t, err)
	})
}

func TestRequestValidator_DoesNotMutateInput(t *testing.T) {
	v := NewRequestValidator()
	fields, err := v.Parse(bodyOf(t, validFields()))
	require.NoError(t, err)
	before := make(map[string]string, len(fields))
	for k, raw := range fields {
		before[k] = string(raw)
	}

	first, err := v.ValidateFields(fields)
	require.NoError(t, err)
	second, err := v.ValidateFields(fields)
	require.NoError(t, err)

	for k, raw := range fields {
		assert.Equal(t, before[k], string(raw))
	}
	assert.Equal(t, first.Imprint(), second.Imprint())
	assert.Equal(t, "acme", DeclaredTenant(fields))
}
