// Package errs holds the closed error taxonomy surfaced by the certificate
// lifecycle, the registry client and the signing facade.
package errs

import "errors"

var (
	// ErrDataNotFound covers missing local entities or certificates and registry lookups that fail.
	ErrDataNotFound = errors.New("data not found")

	// ErrSavingFailed covers local persistence failures and rejected registry create/update calls.
	ErrSavingFailed = errors.New("saving failed")

	// ErrDeletingFailed is returned when the registry rejects a delete.
	ErrDeletingFailed = errors.New("deleting failed")

	// ErrInvalidRequest covers malformed registry responses and bad signing arguments.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMcpConnectivity is returned when the registry cannot be reached at the transport or TLS layer.
	ErrMcpConnectivity = errors.New("MCP registry unreachable")
)
