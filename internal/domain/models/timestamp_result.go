package models

import (
	"math/big"
	"time"
)

// Accuracy is the provider-claimed precision of genTime, in RFC 3161 form.
type Accuracy struct {
	Seconds int `json:"seconds"`
	Millis  int `json:"millis"`
	Micros  int `json:"micros"`
}

// AccuracyFromDuration splits a duration into seconds, millis and micros. A
// non-positive duration means the provider made no accuracy claim and yields nil.
func AccuracyFromDuration(d time.Duration) *Accuracy {
	if d <= 0 {
		return nil
	}
	return &Accuracy{
		Seconds: int(d / time.Second),
		Millis:  int((d % time.Second) / time.Millisecond),
		Micros:  int((d % time.Millisecond) / time.Microsecond),
	}
}

// Duration returns the accuracy as a time.Duration.
func (a Accuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// ProviderResponse is what a provider client extracts from an upstream TimeStampResp.
type ProviderResponse struct {
	Token        []byte
	GenTime      time.Time
	Accuracy     time.Duration
	PolicyOID    string
	Nonce        *big.Int
	SerialNumber *big.Int
}

// TimestampResult is the final, immutable outcome of a successful request.
type TimestampResult struct {
	TSAID        string    `json:"tsa_id"`
	Token        []byte    `json:"tst"`
	PolicyOID    string    `json:"policy_oid"`
	GenTime      time.Time `json:"genTime"`
	Accuracy     *Accuracy `json:"accuracy,omitempty"`
	Nonce        *big.Int  `json:"-"`
	SerialNumber *big.Int  `json:"-"`
	Attempts     int       `json:"-"`
}

// NewTimestampResult copies the provider response into a result.
func NewTimestampResult(providerID string, resp *ProviderResponse, attempts int) *TimestampResult {
	res := &TimestampResult{
		TSAID:     providerID,
		Token:     append([]byte(nil), resp.Token...),
		PolicyOID: resp.PolicyOID,
		GenTime:   resp.GenTime.UTC(),
		Accuracy:  AccuracyFromDuration(resp.Accuracy),
		Attempts:  attempts,
	}
	if resp.Nonce != nil {
		res.Nonce = new(big.Int).Set(resp.Nonce)
	}
	if resp.SerialNumber != nil {
		res.SerialNumber = new(big.Int).Set(resp.SerialNumber)
	}
	return res
}
