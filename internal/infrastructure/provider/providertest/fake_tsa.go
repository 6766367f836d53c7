// Package providertest runs an in-process RFC 3161 timestamp authority for tests.
package providertest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitorus/timestamp"
)

// DefaultPolicy is the policy OID the fake TSA issues under.
var DefaultPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}

// Server is a signing RFC 3161 endpoint backed by a throwaway ECDSA key.
type Server struct {
	*httptest.Server

	cert *x509.Certificate
	key  *ecdsa.PrivateKey

	mu            sync.Mutex
	status        int
	nonceOverride *big.Int
	delay         time.Duration
	username      string
	password      string

	serial   atomic.Int64
	requests atomic.Int64
}

// NewServer starts a fake TSA and registers its shutdown with t.
func NewServer(t testing.TB) *Server {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fake tsa"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	s := &Server{cert: cert, key: key, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every following request answer with the HTTP status. 200 restores signing.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// EchoNonce makes the server answer with nonce instead of the requested one. nil restores echo.
func (s *Server) EchoNonce(nonce *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonceOverride = nonce
}

// Delay makes the server sleep before answering.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// RequireBasicAuth rejects requests without the given credentials.
func (s *Server) RequireBasicAuth(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// Requests returns how many requests reached the server.
func (s *Server) Requests() int64 { return s.requests.Load() }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	s.mu.Lock()
	status, override, delay := s.status, s.nonceOverride, s.delay
	username, password := s.username, s.password
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if username != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != username || p != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if r.Header.Get("Content-Type") != "application/timestamp-query" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req, err := timestamp.ParseRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	policy := DefaultPolicy
	if len(req.TSAPolicyOID) > 0 {
		policy = req.TSAPolicyOID
	}
	nonce := req.Nonce
	if override != nil {
		nonce = override
	}

	ts := timestamp.Timestamp{
		HashAlgorithm:     req.HashAlgorithm,
		HashedMessage:     req.HashedMessage,
		Time:              time.Now().UTC().Truncate(time.Second),
		Accuracy:          time.Second,
		Nonce:             nonce,
		Policy:            policy,
		SerialNumber:      big.NewInt(s.serial.Add(1)),
		AddTSACertificate: true,
	}
	resp, err := ts.CreateResponseWithOpts(s.cert, s.key, crypto.SHA256)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/timestamp-reply")
	_, _ = w.Write(resp)
}
