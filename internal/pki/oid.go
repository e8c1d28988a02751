package pki

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
)

// Distinguished name attribute types used in MCP certificate subjects.
var (
	OIDCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	OIDSerialNumber       = asn1.ObjectIdentifier{2, 5, 4, 5}
	OIDCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	OIDLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	OIDProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	OIDStreetAddress      = asn1.ObjectIdentifier{2, 5, 4, 9}
	OIDOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	OIDOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	OIDPostalCode         = asn1.ObjectIdentifier{2, 5, 4, 17}

	// OIDUserID carries the entity MRN in registry-issued certificates.
	OIDUserID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

	OIDDomainComponent = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	OIDEmailAddress    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

// ErrAttributeNotFound is returned when a subject attribute is missing
var ErrAttributeNotFound = errors.New("subject attribute not found")

// ExtractSubjectAttribute returns the first string value of the given attribute type.
func ExtractSubjectAttribute(cert *x509.Certificate, oid asn1.ObjectIdentifier) (string, error) {
	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(oid) {
			continue
		}
		if s, ok := atv.Value.(string); ok {
			return s, nil
		}
	}
	return "", ErrAttributeNotFound
}

// ExtractMRN extracts the entity MRN from the subject UID attribute.
func ExtractMRN(cert *x509.Certificate) (string, error) {
	return ExtractSubjectAttribute(cert, OIDUserID)
}
