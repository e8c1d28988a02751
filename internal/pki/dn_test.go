package pki

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDN(t *testing.T) {
	t.Run("typed and extra attributes", func(t *testing.T) {
		name, err := ParseDN("CN=test_aton, O=urn:mrn:mcp:org:mcc:grad, OU=device, C=GB, UID=urn:mrn:mcp:device:mcc:grad:test_aton")
		require.NoError(t, err)
		require.Equal(t, "test_aton", name.CommonName)
		require.Equal(t, []string{"urn:mrn:mcp:org:mcc:grad"}, name.Organization)
		require.Equal(t, []string{"device"}, name.OrganizationalUnit)
		require.Equal(t, []string{"GB"}, name.Country)
		require.Len(t, name.ExtraNames, 1)
		require.True(t, name.ExtraNames[0].Type.Equal(OIDUserID))
		require.Equal(t, "urn:mrn:mcp:device:mcc:grad:test_aton", name.ExtraNames[0].Value)
	})

	t.Run("escaped and quoted values", func(t *testing.T) {
		name, err := ParseDN(`CN=Smith\, John; O="Acme, Inc"`)
		require.NoError(t, err)
		require.Equal(t, "Smith, John", name.CommonName)
		require.Equal(t, []string{"Acme, Inc"}, name.Organization)
	})

	t.Run("lower case keys", func(t *testing.T) {
		name, err := ParseDN("cn=device-1")
		require.NoError(t, err)
		require.Equal(t, "device-1", name.CommonName)
	})

	t.Run("errors", func(t *testing.T) {
		for _, dn := range []string{"", "CN", "XX=foo", `CN=foo\`, `CN="foo`} {
			_, err := ParseDN(dn)
			require.ErrorIs(t, err, ErrInvalidDN, dn)
		}
	})
}

func TestRenderSubjectDN(t *testing.T) {
	dn := RenderSubjectDN("CN={name}, UID={mrn}", map[string]string{
		"name": "Doe, Jane",
		"mrn":  "urn:mrn:mcp:user:mcc:grad:doe",
	})
	require.Equal(t, `CN=Doe\, Jane, UID=urn:mrn:mcp:user:mcc:grad:doe`, dn)

	name, err := ParseDN(dn)
	require.NoError(t, err)
	require.Equal(t, "Doe, Jane", name.CommonName)
}
