// Package mrn builds canonical Maritime Resource Names and registry endpoint
// URLs for the entities managed by this service.
package mrn

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfeidau/mcpcerts/internal/models"
)

const (
	DefaultPrefix    = "urn:mrn:mcp"
	DefaultSuffix    = "mcc"
	DefaultOrgPrefix = "urn:mrn:mcp:org:mcc"

	instanceSegment = "instance"
)

var invalidRun = regexp.MustCompile(`[^A-Za-z0-9_.]+`)

// Naming holds the organisation-wide MRN settings.
type Naming struct {
	Prefix       string // e.g. urn:mrn:mcp
	Suffix       string // e.g. mcc
	Organisation string // e.g. grad
	OrgPrefix    string // e.g. urn:mrn:mcp:org:mcc
	Host         string // identity registry host
}

// New returns a Naming with default prefixes for the given organisation and registry host.
func New(organisation, host string) *Naming {
	return &Naming{
		Prefix:       DefaultPrefix,
		Suffix:       DefaultSuffix,
		Organisation: organisation,
		OrgPrefix:    DefaultOrgPrefix,
		Host:         host,
	}
}

// TypeSegment returns the MRN and wire path segment for an entity type.
func TypeSegment(t models.EntityType) string {
	return strings.ToLower(string(t))
}

// TypePrefix returns the leading MRN part shared by every entity of type t,
// for example "urn:mrn:mcp:device:mcc".
func (n *Naming) TypePrefix(t models.EntityType) string {
	return fmt.Sprintf("%s:%s:%s", n.Prefix, TypeSegment(t), n.Suffix)
}

// ConstructMRN returns the canonical MRN for rawID. Values already carrying
// the type prefix are returned unchanged, so the function is idempotent.
func (n *Naming) ConstructMRN(t models.EntityType, rawID string) string {
	if strings.HasPrefix(rawID, n.TypePrefix(t)+":") {
		return rawID
	}

	parts := []string{n.TypePrefix(t), n.Organisation}
	if t == models.EntityTypeService {
		parts = append(parts, instanceSegment)
	}
	parts = append(parts, Normalize(rawID))

	return strings.Join(parts, ":")
}

// ConstructMRNNullable is ConstructMRN for optional identifiers. A nil rawID
// is rendered as the literal "null", matching what the registry has always
// received for unnamed entities.
func (n *Naming) ConstructMRNNullable(t models.EntityType, rawID *string) string {
	if rawID == nil {
		return n.ConstructMRN(t, "null")
	}
	return n.ConstructMRN(t, *rawID)
}

// Normalize lower-cases id and collapses every run of characters outside
// [A-Za-z0-9_.] into a single '-'.
func Normalize(id string) string {
	return invalidRun.ReplaceAllString(strings.ToLower(id), "-")
}

// OrganisationMRN returns the organisation MRN, e.g. urn:mrn:mcp:org:mcc:grad.
func (n *Naming) OrganisationMRN() string {
	return fmt.Sprintf("%s:%s", n.OrgPrefix, n.Organisation)
}

// BaseURL returns the organisation root used for connectivity probes.
func (n *Naming) BaseURL() string {
	return fmt.Sprintf("https://%s/x509/api/org/%s/", n.Host, n.OrganisationMRN())
}

// EndpointURL returns the registry URL for a path segment under this organisation.
func (n *Naming) EndpointURL(segment string) string {
	return ConstructEndpointURL(n.Host, n.OrgPrefix, n.Organisation, segment)
}

// ConstructEndpointURL returns https://{host}/x509/api/org/{orgPrefix}:{organisation}/{segment}/.
func ConstructEndpointURL(host, orgPrefix, organisation, segment string) string {
	return fmt.Sprintf("https://%s/x509/api/org/%s:%s/%s/", host, orgPrefix, organisation, segment)
}
