package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDN is returned when a distinguished name string cannot be parsed.
var ErrInvalidDN = errors.New("invalid distinguished name")

var dnAttributes = map[string]asn1.ObjectIdentifier{
	"CN":           OIDCommonName,
	"SERIALNUMBER": OIDSerialNumber,
	"C":            OIDCountry,
	"L":            OIDLocality,
	"ST":           OIDProvince,
	"STREET":       OIDStreetAddress,
	"O":            OIDOrganization,
	"OU":           OIDOrganizationalUnit,
	"POSTALCODE":   OIDPostalCode,
	"UID":          OIDUserID,
	"DC":           OIDDomainComponent,
	"E":            OIDEmailAddress,
	"EMAILADDRESS": OIDEmailAddress,
}

// ParseDN parses a string distinguished name such as
// "CN=aton, O=Acme, OU=device, C=DK, UID=urn:mrn:mcp:device:mcc:acme:aton".
// Attributes are separated by commas or semicolons; backslash escapes and
// double-quoted values are honoured.
func ParseDN(dn string) (pkix.Name, error) {
	var name pkix.Name

	rdns, err := splitDN(dn)
	if err != nil {
		return name, err
	}

	for _, rdn := range rdns {
		key, value, ok := strings.Cut(rdn, "=")
		if !ok {
			return name, fmt.Errorf("%w: missing '=' in %q", ErrInvalidDN, rdn)
		}

		key = strings.ToUpper(strings.TrimSpace(key))
		value = unescapeDNValue(strings.TrimSpace(value))

		oid, known := dnAttributes[key]
		if !known {
			return name, fmt.Errorf("%w: unknown attribute %q", ErrInvalidDN, key)
		}

		switch key {
		case "CN":
			name.CommonName = value
		case "SERIALNUMBER":
			name.SerialNumber = value
		case "C":
			name.Country = append(name.Country, value)
		case "L":
			name.Locality = append(name.Locality, value)
		case "ST":
			name.Province = append(name.Province, value)
		case "STREET":
			name.StreetAddress = append(name.StreetAddress, value)
		case "O":
			name.Organization = append(name.Organization, value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, value)
		case "POSTALCODE":
			name.PostalCode = append(name.PostalCode, value)
		default:
			name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{Type: oid, Value: value})
		}
	}

	return name, nil
}

// EscapeDNValue escapes the characters that would otherwise split or terminate a DN value.
func EscapeDNValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case ',', ';', '+', '"', '\\', '<', '>', '=':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RenderSubjectDN substitutes {placeholder} tokens in a DN template with escaped values.
func RenderSubjectDN(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", EscapeDNValue(v))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func splitDN(dn string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		escaped bool
		quoted  bool
	)

	for _, r := range dn {
		switch {
		case escaped:
			current.WriteByte('\\')
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case (r == ',' || r == ';') && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	if escaped || quoted {
		return nil, fmt.Errorf("%w: unterminated escape or quote", ErrInvalidDN)
	}
	parts = append(parts, current.String())

	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDN)
	}
	return out, nil
}

func unescapeDNValue(v string) string {
	var b strings.Builder
	escaped := false
	for _, r := range v {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
