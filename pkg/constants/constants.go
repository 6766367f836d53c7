// Package constants defines system-wide constants for the TSA aggregation broker.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Service Identity
// ================================================================================

const (
	// ServiceName is used for tracing resources, logs and the gRPC health service
	ServiceName = "tsa-broker"
	// ServiceVersion is reported on trace resources
	ServiceVersion = "1.0.0"

	// EnvPrefix is the environment variable prefix read by the config loader
	EnvPrefix = "TSA_BROKER"
)

// ================================================================================
// Hash Algorithm OIDs
// ================================================================================

const (
	// OIDSHA256 is the id-sha256 digest algorithm
	OIDSHA256 = "2.16.840.1.101.3.4.2.1"

	// OIDSHA384 is the id-sha384 digest algorithm
	OIDSHA384 = "2.16.840.1.101.3.4.2.2"

	// OIDSHA512 is the id-sha512 digest algorithm
	OIDSHA512 = "2.16.840.1.101.3.4.2.3"

	// OIDSHA1 is the legacy id-sha1 digest algorithm. Never accepted.
	OIDSHA1 = "1.3.14.3.2.26"
)

// ================================================================================
// Request Bounds
// ================================================================================

const (
	// MinImprintBytes is the smallest accepted decoded imprint
	MinImprintBytes = 32

	// MaxImprintBytes is the largest accepted decoded imprint
	MaxImprintBytes = 512

	// MaxPolicyOIDLength bounds reqPolicy
	MaxPolicyOIDLength = 100

	// MaxNonceDigits bounds the decimal nonce string
	MaxNonceDigits = 40

	// MaxTenantIDLength bounds tenant_id
	MaxTenantIDLength = 64

	// MaxSignBodyBytes bounds the /tsa/sign request body
	MaxSignBodyBytes = 8 << 10

	// MaxErrorExcerpt bounds the sanitized input echo in validation errors
	MaxErrorExcerpt = 24
)

// ================================================================================
// Request Field Names
// ================================================================================

const (
	FieldImprint   = "imprint"
	FieldHashAlg   = "hashAlg"
	FieldReqPolicy = "reqPolicy"
	FieldNonce     = "nonce"
	FieldTenantID  = "tenant_id"
)

// ================================================================================
// Permissions
// ================================================================================

// Permission names a tenant capability checked by the AuthGateway
type Permission string

const (
	// PermissionSign allows POST /tsa/sign
	PermissionSign Permission = "timestamp:sign"

	// PermissionRead allows GET /tsa/status
	PermissionRead Permission = "timestamp:read"

	// PermissionPolicyRead allows GET /tsa/policy/:tenant_id
	PermissionPolicyRead Permission = "policy:read"

	// PermissionMetricsRead allows GET /metrics
	PermissionMetricsRead Permission = "metrics:read"
)

// ================================================================================
// Rate Limit Windows
// ================================================================================

// RateLimitWindow is the window name passed to the identity collaborator
type RateLimitWindow string

const (
	RateLimitWindowSecond RateLimitWindow = "second"
	RateLimitWindowMinute RateLimitWindow = "minute"
	RateLimitWindowHour   RateLimitWindow = "hour"
	RateLimitWindowDay    RateLimitWindow = "day"
)

// Duration returns the length of the window, or zero for an unknown name.
func (w RateLimitWindow) Duration() time.Duration {
	switch w {
	case RateLimitWindowSecond:
		return time.Second
	case RateLimitWindowMinute:
		return time.Minute
	case RateLimitWindowHour:
		return time.Hour
	case RateLimitWindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// RateLimitScope labels which limiter rejected a request
type RateLimitScope string

const (
	RateLimitScopeIP     RateLimitScope = "ip"
	RateLimitScopeTenant RateLimitScope = "tenant"
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode is the machine-readable error category returned to clients
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "validation_error"
	ErrCodeAuthentication    ErrorCode = "authentication_error"
	ErrCodeAuthorization     ErrorCode = "authorization_error"
	ErrCodeRateLimit         ErrorCode = "rate_limit_error"
	ErrCodeBackpressure      ErrorCode = "backpressure"
	ErrCodeProviderExhausted ErrorCode = "provider_exhausted"
	ErrCodeQueueFull         ErrorCode = "queue_full"
	ErrCodeQueueExpired      ErrorCode = "queue_expired"
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeInternal          ErrorCode = "internal_error"
)

// ================================================================================
// Client-Visible Messages
// ================================================================================

// Every message a client can see comes from this list.
const (
	MsgUnknownField        = "unknown field"
	MsgFieldNotString      = "field must be a string"
	MsgMalformedBody       = "request body must be a JSON object"
	MsgBodyTooLarge        = "request body too large"
	MsgImprintRequired     = "imprint is required"
	MsgImprintEncoding     = "imprint must be strict base64"
	MsgImprintLength       = "imprint must decode to 32-512 bytes"
	MsgImprintNullByte     = "imprint must not contain null bytes"
	MsgHashAlgRequired     = "hashAlg is required"
	MsgHashAlgUnsupported  = "hashAlg is not an allowed digest algorithm"
	MsgPolicyInvalid       = "reqPolicy must be a dotted OID of at most 100 characters"
	MsgNonceInvalid        = "nonce must be a decimal string of at most 40 digits"
	MsgNonceRange          = "nonce exceeds 2^256-1"
	MsgTenantIDInvalid     = "tenant_id is invalid"
	MsgAuthenticationFail  = "authentication failed"
	MsgForbidden           = "access denied"
	MsgRateLimited         = "rate limit exceeded"
	MsgQueued              = "request queued, retry later"
	MsgInProgress          = "request already in progress, retry later"
	MsgProviderExhausted   = "no timestamp provider available"
	MsgQueueFull           = "service at capacity"
	MsgQueueExpired        = "request expired in queue"
	MsgPolicyNotFound      = "policy not found"
	MsgNotFound            = "resource not found"
	MsgInternal            = "internal error"
	MsgAdminAuthentication = "admin authentication failed"
)

// ================================================================================
// HTTP Headers
// ================================================================================

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"

	// AuthSchemeAPIKey is accepted as "Authorization: ApiKey <key>"
	AuthSchemeAPIKey = "ApiKey"

	// AuthSchemeBearer carries the admin credential
	AuthSchemeBearer = "Bearer"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyTenantID is the key for the authenticated tenant ID in context
	ContextKeyTenantID ContextKey = "tenant_id"

	// ContextKeyTenant is the gin context key for the authenticated tenant
	ContextKeyTenant ContextKey = "tenant"

	// ContextKeyLogger is the key for a request scoped logger
	ContextKeyLogger ContextKey = "logger"
)

// ================================================================================
// Defaults
// ================================================================================

const (
	DefaultMaxQueueSize          = 100
	DefaultMaxConcurrentDispatch = 8
	DefaultQueueTTL              = 30 * time.Second
	DefaultDrainInterval         = 500 * time.Millisecond
	DefaultRetryAfter            = 5 * time.Second
	DefaultMaxAttempts           = 3
	DefaultCallTimeout           = 10 * time.Second
	DefaultProbeInterval         = 15 * time.Second
	DefaultProbeTimeout          = 3 * time.Second
	DefaultDegradeAfter          = 2
	DefaultUnhealthyAfter        = 2
	DefaultTenantRatePerMinute   = 120
)

// ================================================================================
// RFC 3161 Transport
// ================================================================================

const (
	// ContentTypeTimestampQuery is the media type of a DER TimeStampReq
	ContentTypeTimestampQuery = "application/timestamp-query"

	// ContentTypeTimestampReply is the media type of a DER TimeStampResp
	ContentTypeTimestampReply = "application/timestamp-reply"

	// MaxProviderResponseBytes bounds what is read from an upstream TSA
	MaxProviderResponseBytes = 1 << 20

	// ProbeMessage is hashed with SHA-256 to build the health probe request
	ProbeMessage = "tsa-broker health probe"
)
