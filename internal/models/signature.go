package models

// SignatureCertificate is handed to callers that need to verify signatures
// produced on behalf of an entity. It is built per request and never persisted.
type SignatureCertificate struct {
	CertificateID         string `json:"certificateId"`
	CertificatePEM        string `json:"certificate"`
	PublicKeyPEM          string `json:"publicKey"`
	RootCertificateBase64 string `json:"rootCertificate"`
}
