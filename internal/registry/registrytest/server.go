// Package registrytest runs an in-process identity registry over mutual TLS
// for tests. Certificates are issued by an ephemeral CA.
package registrytest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/mcpcerts/internal/keystore"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
)

// Operation names accepted by Fail and Calls.
const (
	OpOptions = "options"
	OpGet     = "get"
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpIssue   = "issue"
	OpRevoke  = "revoke"
)

// RootAlias is the truststore alias of the registry CA.
const RootAlias = "mcp-root"

type certificate struct {
	ID           int64  `json:"id"`
	Certificate  string `json:"certificate"`
	SerialNumber string `json:"serialNumber"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Revoked      bool   `json:"revoked"`
	RevokeReason string `json:"revokeReason,omitempty"`
	RevokedAt    string `json:"revokedAt,omitempty"`
}

type entity struct {
	doc   map[string]any
	certs []*certificate
}

// Server is a fake identity registry.
type Server struct {
	*httptest.Server

	CA        *pki.FileSigner
	Naming    *mrn.Naming
	Validity  time.Duration
	EscapePEM bool // emit certificate PEMs with literal \n sequences

	mu           sync.Mutex
	omitLocation bool
	nextID       int64
	entities     map[string]*entity
	failures     map[string]int
	calls        map[string]int
	revokes      []RevocationCall
}

// RevocationCall records the body of a revoke request.
type RevocationCall struct {
	RemoteID         string
	RevokationReason string `json:"revokationReason"`
	RevokedAt        string `json:"revokedAt"`
}

// NewServer starts a registry for organisation requiring client certificates
// issued by its CA. It is closed when the test ends.
func NewServer(t testing.TB, organisation string) *Server {
	t.Helper()

	ca, err := pki.NewEphemeralCA("MCP Test Root", "", 24*time.Hour)
	require.NoError(t, err)

	caCert, err := ca.GetCACertificate()
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	s := &Server{
		CA:        ca,
		Validity:  365 * 24 * time.Hour,
		EscapePEM: true,
		nextID:    1,
		entities:  make(map[string]*entity),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
	}

	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(s.handle))
	s.Server.TLS = &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  pool,
		MinVersion: tls.VersionTLS12,
	}
	s.Server.StartTLS()
	t.Cleanup(s.Server.Close)

	u, err := url.Parse(s.Server.URL)
	require.NoError(t, err)
	s.Naming = mrn.New(organisation, u.Host)

	return s
}

// ClientIdentity issues a client certificate from the registry CA.
func (s *Server) ClientIdentity(t testing.TB) *keystore.Identity {
	t.Helper()

	kp, err := pki.GenerateKeyPair("")
	require.NoError(t, err)

	csr, err := pki.GenerateCSR(kp, "CN=mcpcerts, O="+s.Naming.Organisation, "")
	require.NoError(t, err)

	now := time.Now()
	cert, err := pki.IssueFromCSR(s.CA, csr, s.Naming.ConstructMRN(models.EntityTypeDevice, "mcpcerts"), now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)

	return &keystore.Identity{Chain: []*x509.Certificate{cert}, PrivateKey: kp.Private}
}

// Truststore trusts the server's TLS certificate and carries the CA under RootAlias.
func (s *Server) Truststore(t testing.TB) *keystore.Truststore {
	t.Helper()

	caCert, err := s.CA.GetCACertificate()
	require.NoError(t, err)

	ts := &keystore.Truststore{}
	ts.Add("mir", s.Server.Certificate())
	ts.Add(RootAlias, caCert)
	return ts
}

// Fail makes the next n calls of op respond with status.
func (s *Server) Fail(op string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = status<<16 | n
}

// OmitLocationHeader makes issuance responses drop the Location header.
func (s *Server) OmitLocationHeader(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLocation = omit
}

// Calls reports how many requests of op were received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Revocations returns the revoke requests received so far.
func (s *Server) Revocations() []RevocationCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RevocationCall(nil), s.revokes...)
}

// Put stores doc as the entity at segment/mrn[/version] without going through HTTP.
func (s *Server) Put(segment, entityMRN, version string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc["mrn"] = entityMRN
	s.entities[key(segment, entityMRN, version)] = &entity{doc: doc}
}

// RevokeOutOfBand marks a registry certificate revoked without a client call.
func (s *Server) RevokeOutOfBand(segment, entityMRN, version, serialHex string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[key(segment, entityMRN, version)]
	if !ok {
		return false
	}
	for _, c := range e.certs {
		if c.SerialNumber == serialHex {
			c.Revoked = true
			c.RevokeReason = "superseded"
			return true
		}
	}
	return false
}

// IssueOutOfBand issues a certificate for an existing entity directly on the registry.
func (s *Server) IssueOutOfBand(t testing.TB, segment, entityMRN, version string) *x509.Certificate {
	t.Helper()

	kp, err := pki.GenerateKeyPair("")
	require.NoError(t, err)
	csr, err := pki.GenerateCSR(kp, "CN=out-of-band", "")
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[key(segment, entityMRN, version)]
	require.True(t, ok, "entity %s not registered", entityMRN)

	c, err := s.issue(e, entityMRN, csr)
	require.NoError(t, err)
	return c
}

func key(segment, entityMRN, version string) string {
	return segment + "|" + entityMRN + "|" + version
}

func (s *Server) pem(cert *x509.Certificate) string {
	out := pki.EncodeCertificatePEM(cert)
	if s.EscapePEM {
		out = strings.ReplaceAll(out, "\n", `\n`)
	}
	return out
}

// issue must be called with mu held.
func (s *Server) issue(e *entity, entityMRN string, csr *x509.CertificateRequest) (*x509.Certificate, error) {
	now := time.Now().Truncate(time.Second)
	cert, err := pki.IssueFromCSR(s.CA, csr, entityMRN, now.Add(-time.Minute), now.Add(s.Validity))
	if err != nil {
		return nil, err
	}

	e.certs = append(e.certs, &certificate{
		ID:           s.nextID,
		Certificate:  s.pem(cert),
		SerialNumber: cert.SerialNumber.Text(16),
		Start:        cert.NotBefore.Format(time.RFC3339),
		End:          cert.NotAfter.Format(time.RFC3339),
	})
	s.nextID++

	return cert, nil
}

// takeFailure must be called with mu held.
func (s *Server) takeFailure(op string) int {
	v, ok := s.failures[op]
	if !ok {
		return 0
	}
	status, n := v>>16, v&0xffff
	if n <= 1 {
		delete(s.failures, op)
	} else {
		s.failures[op] = status<<16 | (n - 1)
	}
	return status
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/x509/api/org/" + s.Naming.OrganisationMRN() + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")

	op := operation(r.Method, parts)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if status := s.takeFailure(op); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch op {
	case OpOptions:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
	case OpCreate:
		s.create(w, r, parts[0])
	case OpGet, OpUpdate, OpDelete:
		s.entity(w, r, op, parts)
	case OpIssue:
		s.issueCSR(w, r, parts)
	case OpRevoke:
		s.revoke(w, r, parts)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func operation(method string, parts []string) string {
	switch {
	case method == http.MethodOptions:
		return OpOptions
	case method == http.MethodPost && len(parts) == 1:
		return OpCreate
	case method == http.MethodPost && strings.HasSuffix(strings.Join(parts, "/"), "certificate/issue-new/csr"):
		return OpIssue
	case method == http.MethodPost && parts[len(parts)-1] == "revoke":
		return OpRevoke
	case method == http.MethodGet:
		return OpGet
	case method == http.MethodPut:
		return OpUpdate
	case method == http.MethodDelete:
		return OpDelete
	}
	return method
}

// address splits [segment, mrn, version?, rest...].
func address(parts []string) (segment, entityMRN, version string, rest []string) {
	if len(parts) < 2 {
		return "", "", "", nil
	}
	segment, entityMRN, rest = parts[0], parts[1], parts[2:]
	if len(rest) > 0 && rest[0] != "certificate" {
		version, rest = rest[0], rest[1:]
	}
	return segment, entityMRN, version, rest
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, segment string) {
	doc := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entityMRN, _ := doc["mrn"].(string)
	version, _ := doc["instanceVersion"].(string)
	k := key(segment, entityMRN, version)
	if _, exists := s.entities[k]; exists {
		http.Error(w, "entity already exists", http.StatusConflict)
		return
	}

	doc["id"] = s.nextID
	s.nextID++
	e := &entity{doc: doc}
	s.entities[k] = e

	writeJSON(w, http.StatusCreated, s.render(e))
}

func (s *Server) entity(w http.ResponseWriter, r *http.Request, op string, parts []string) {
	segment, entityMRN, version, _ := address(parts)
	k := key(segment, entityMRN, version)

	e, ok := s.entities[k]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch op {
	case OpGet:
		writeJSON(w, http.StatusOK, s.render(e))
	case OpUpdate:
		doc := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		delete(doc, "certificates")
		doc["id"] = e.doc["id"]
		doc["mrn"] = entityMRN
		e.doc = doc
		// the registry answers PUT with an empty body
		w.WriteHeader(http.StatusOK)
	case OpDelete:
		delete(s.entities, k)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) issueCSR(w http.ResponseWriter, r *http.Request, parts []string) {
	segment, entityMRN, version, _ := address(parts)

	e, ok := s.entities[key(segment, entityMRN, version)]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	csr, err := pki.ParseCSRPEM(string(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cert, err := s.issue(e, entityMRN, csr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := e.certs[len(e.certs)-1].ID
	if !s.omitLocation {
		w.Header().Set("Location", fmt.Sprintf("%s/certificate/%d", strings.TrimSuffix(r.URL.Path, "/certificate/issue-new/csr"), id))
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, s.pem(cert))
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request, parts []string) {
	segment, entityMRN, version, rest := address(parts)

	e, ok := s.entities[key(segment, entityMRN, version)]
	if !ok || len(rest) != 3 {
		http.NotFound(w, r)
		return
	}

	var call RevocationCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call.RemoteID = rest[1]

	id, err := strconv.ParseInt(call.RemoteID, 10, 64)
	if err != nil {
		http.Error(w, "bad certificate id", http.StatusBadRequest)
		return
	}

	for _, c := range e.certs {
		if c.ID == id {
			c.Revoked = true
			c.RevokeReason = call.RevokationReason
			c.RevokedAt = call.RevokedAt
			s.revokes = append(s.revokes, call)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	http.NotFound(w, r)
}

func (s *Server) render(e *entity) map[string]any {
	out := make(map[string]any, len(e.doc)+1)
	for k, v := range e.doc {
		out[k] = v
	}
	// documents seeded through Put may carry their own certificate list
	if _, seeded := out["certificates"]; !seeded || len(e.certs) > 0 {
		certs := make([]*certificate, len(e.certs))
		copy(certs, e.certs)
		out["certificates"] = certs
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
