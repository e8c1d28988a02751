// Package registry is the mutual TLS client for the MCP Identity Registry.
// It covers entity CRUD plus certificate issue, revoke and listing. Calls are
// never retried; each failure surfaces as one of the errs sentinels.
package registry

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/mcpcerts/internal/errs"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/pki"
	"github.com/wolfeidau/mcpcerts/internal/telemetry"
)

// DefaultRevocationReason is sent when revoking certificates.
const DefaultRevocationReason = "unspecified"

const maxBodySize = 1 << 20

// RevocationRequest is the body of a revoke call.
type RevocationRequest struct {
	RevokationReason string `json:"revokationReason"`
	RevokedAt        string `json:"revokedAt"`
}

// Client talks to one organisation on the identity registry.
type Client struct {
	http   *http.Client
	naming *mrn.Naming
	now    func() time.Time
}

// NewClient returns a registry client using the supplied mutual TLS client.
func NewClient(httpClient *http.Client, naming *mrn.Naming) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("registry http client is required")
	}
	if naming == nil || naming.Host == "" || naming.Organisation == "" {
		return nil, errors.New("registry host and organisation are required")
	}

	return &Client{http: httpClient, naming: naming, now: time.Now}, nil
}

// Naming returns the MRN settings of the organisation this client addresses.
func (c *Client) Naming() *mrn.Naming {
	return c.naming
}

func (c *Client) entityURL(k Kind, entityMRN, version string) (string, error) {
	if strings.TrimSpace(entityMRN) == "" {
		return "", fmt.Errorf("%w: entity MRN is required", errs.ErrInvalidRequest)
	}
	if k.RequiresVersion() && version == "" {
		return "", fmt.Errorf("%w: %s entities require a version", errs.ErrInvalidRequest, k.Segment())
	}

	u := c.naming.EndpointURL(k.Segment()) + entityMRN
	if version != "" {
		u += "/" + version
	}
	return u, nil
}

// CheckConnectivity probes the organisation root with OPTIONS. Any HTTP
// response counts as reachable; only transport or TLS failures are errors.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	resp, _, err := c.do(ctx, "check_connectivity", http.MethodOptions, c.naming.BaseURL(), "", nil)
	if err != nil {
		return err
	}

	log.Debug().Int("status", resp.StatusCode).Msg("registry reachable")

	return nil
}

// GetEntity fetches one entity. Any non-2xx status or undecodable body is ErrDataNotFound.
func (c *Client) GetEntity(ctx context.Context, k Kind, entityMRN, version string) (Entity, error) {
	u, err := c.entityURL(k, entityMRN, version)
	if err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, "get_entity", http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp) {
		return nil, fmt.Errorf("%w: %s %s returned %d", errs.ErrDataNotFound, k.Segment(), entityMRN, resp.StatusCode)
	}

	e := k.New()
	if err := json.Unmarshal(body, e); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s %s: %v", errs.ErrDataNotFound, k.Segment(), entityMRN, err)
	}

	return e, nil
}

// CreateEntity registers e under its normalized MRN and returns the registry's copy.
func (c *Client) CreateEntity(ctx context.Context, k Kind, e Entity) (Entity, error) {
	if strings.TrimSpace(e.GetName()) == "" || strings.TrimSpace(e.GetMRN()) == "" {
		return nil, fmt.Errorf("%w: entity name and MRN are required", errs.ErrSavingFailed)
	}

	e.SetMRN(c.naming.ConstructMRN(k.Type(), e.GetMRN()))

	if err := c.CheckConnectivity(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSavingFailed, err)
	}

	resp, body, err := c.do(ctx, "create_entity", http.MethodPost, c.naming.EndpointURL(k.Segment()), "application/json", payload)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp) || len(body) == 0 {
		return nil, fmt.Errorf("%w: create %s %s returned %d", errs.ErrSavingFailed, k.Segment(), e.GetMRN(), resp.StatusCode)
	}

	created := k.New()
	if err := json.Unmarshal(body, created); err != nil {
		return nil, fmt.Errorf("%w: failed to decode created %s: %v", errs.ErrSavingFailed, k.Segment(), err)
	}

	return created, nil
}

// UpdateEntity replaces the entity at entityMRN and returns the canonical
// copy read back from the registry, not the PUT response.
func (c *Client) UpdateEntity(ctx context.Context, k Kind, entityMRN, version string, e Entity) (Entity, error) {
	u, err := c.entityURL(k, entityMRN, version)
	if err != nil {
		return nil, err
	}

	if err := c.CheckConnectivity(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSavingFailed, err)
	}

	resp, _, err := c.do(ctx, "update_entity", http.MethodPut, u, "application/json", payload)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp) {
		return nil, fmt.Errorf("%w: update %s %s returned %d", errs.ErrSavingFailed, k.Segment(), entityMRN, resp.StatusCode)
	}

	return c.GetEntity(ctx, k, entityMRN, version)
}

// DeleteEntity removes an entity from the registry.
func (c *Client) DeleteEntity(ctx context.Context, k Kind, entityMRN, version string) (bool, error) {
	u, err := c.entityURL(k, entityMRN, version)
	if err != nil {
		return false, err
	}

	if err := c.CheckConnectivity(ctx); err != nil {
		return false, err
	}

	resp, _, err := c.do(ctx, "delete_entity", http.MethodDelete, u, "", nil)
	if err != nil {
		return false, err
	}
	if !isSuccess(resp) {
		return false, fmt.Errorf("%w: delete %s %s returned %d", errs.ErrDeletingFailed, k.Segment(), entityMRN, resp.StatusCode)
	}

	return true, nil
}

// GetEntityCertificates returns the entity's non-revoked certificates keyed
// by lower-case hex serial number. Entries that fail to parse are dropped.
func (c *Client) GetEntityCertificates(ctx context.Context, k Kind, entityMRN, version string) (map[string]RemoteCertificate, error) {
	e, err := c.GetEntity(ctx, k, entityMRN, version)
	if err != nil {
		return nil, err
	}

	certs := make(map[string]RemoteCertificate)
	for _, rec := range e.GetCertificates() {
		if rec.Revoked {
			continue
		}

		cert, err := pki.ParseCertificatePEM(rec.Certificate)
		if err != nil {
			log.Warn().
				Err(err).
				Str("mrn", entityMRN).
				Str("remote_id", rec.ID.String()).
				Msg("dropping unparseable registry certificate")
			continue
		}

		certs[cert.SerialNumber.Text(16)] = RemoteCertificate{ID: rec.ID.String(), Certificate: cert}
	}

	return certs, nil
}

// IssueEntityCertificate submits csr for signing. It returns the registry's
// certificate id, taken from the last segment of the Location header, and
// the issued certificate.
func (c *Client) IssueEntityCertificate(ctx context.Context, k Kind, entityMRN, version string, csr *x509.CertificateRequest) (string, *x509.Certificate, error) {
	u, err := c.entityURL(k, entityMRN, version)
	if err != nil {
		return "", nil, err
	}

	if err := c.CheckConnectivity(ctx); err != nil {
		return "", nil, err
	}

	resp, body, err := c.do(ctx, "issue_certificate", http.MethodPost, u+"/certificate/issue-new/csr", "text/plain", []byte(pki.EncodeCSRPEM(csr)))
	if err != nil {
		return "", nil, err
	}
	if !isSuccess(resp) {
		return "", nil, fmt.Errorf("%w: issue for %s returned %d", errs.ErrInvalidRequest, entityMRN, resp.StatusCode)
	}

	remoteID := lastSegment(resp.Header.Get("Location"))
	if remoteID == "" {
		return "", nil, fmt.Errorf("%w: issue response for %s has no Location header", errs.ErrInvalidRequest, entityMRN)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil, fmt.Errorf("%w: issue response for %s has an empty body", errs.ErrInvalidRequest, entityMRN)
	}

	cert, err := pki.ParseCertificatePEM(string(body))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	return remoteID, cert, nil
}

// RevokeEntityCertificate revokes the registry certificate remoteCertID.
func (c *Client) RevokeEntityCertificate(ctx context.Context, k Kind, entityMRN, version, remoteCertID string) error {
	if remoteCertID == "" {
		return fmt.Errorf("%w: remote certificate id is required", errs.ErrInvalidRequest)
	}

	u, err := c.entityURL(k, entityMRN, version)
	if err != nil {
		return err
	}

	if err := c.CheckConnectivity(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(RevocationRequest{
		RevokationReason: DefaultRevocationReason,
		RevokedAt:        strconv.FormatInt(c.now().UnixMilli(), 10),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	resp, _, err := c.do(ctx, "revoke_certificate", http.MethodPost, u+"/certificate/"+remoteCertID+"/revoke", "application/json", payload)
	if err != nil {
		return err
	}
	if !isSuccess(resp) {
		return fmt.Errorf("%w: revoke %s returned %d", errs.ErrInvalidRequest, remoteCertID, resp.StatusCode)
	}

	return nil
}

// do performs one request and reads the body. Transport, TLS and timeout
// failures are reported as ErrMcpConnectivity.
func (c *Client) do(ctx context.Context, op, method, url, contentType string, payload []byte) (*http.Response, []byte, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "registry."+op)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", url),
	)

	m := telemetry.GetMetrics()
	opAttr := metric.WithAttributes(attribute.String("operation", op))
	started := time.Now()
	defer func() {
		m.RegistryRequestDuration.Record(ctx, float64(time.Since(started).Milliseconds()), opAttr)
	}()
	m.RegistryRequestsTotal.Add(ctx, 1, opAttr)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		m.RegistryErrorsTotal.Add(ctx, 1, opAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry unreachable")
		return nil, nil, fmt.Errorf("%w: %w", errs.ErrMcpConnectivity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		m.RegistryErrorsTotal.Add(ctx, 1, opAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed reading registry response")
		return nil, nil, fmt.Errorf("%w: %w", errs.ErrMcpConnectivity, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if !isSuccess(resp) {
		m.RegistryErrorsTotal.Add(ctx, 1, opAttr)
		span.SetStatus(codes.Error, resp.Status)
	}

	return resp, body, nil
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func lastSegment(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), "/")
	if location == "" {
		return ""
	}
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
