package commands

import (
	"time"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/pki"
)

type entityView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MRN       string    `json:"mrn"`
	MMSI      *string   `json:"mmsi,omitempty"`
	Type      string    `json:"entityType"`
	Version   *string   `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newEntityView(e *models.Entity) entityView {
	return entityView{
		ID:        e.ID.String(),
		Name:      e.Name,
		MRN:       e.MRN,
		MMSI:      e.MMSI,
		Type:      string(e.Type),
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
	}
}

type certificateView struct {
	ID             string `json:"id"`
	EntityID       string `json:"entityId"`
	RemoteCertID   string `json:"remoteCertId,omitempty"`
	SerialNumber   string `json:"serialNumber,omitempty"`
	SubjectMRN     string `json:"subjectMrn,omitempty"`
	State          string `json:"state"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	HasPrivateKey  bool   `json:"hasPrivateKey"`
	CertificatePEM string `json:"certificate,omitempty"`
}

func newCertificateView(c *models.Certificate, withPEM bool) certificateView {
	v := certificateView{
		ID:            c.ID.String(),
		EntityID:      c.EntityID.String(),
		RemoteCertID:  c.RemoteID(),
		State:         string(c.State(time.Now())),
		StartDate:     c.StartDate.UTC().Format(time.RFC3339),
		EndDate:       c.EndDate.UTC().Format(time.RFC3339),
		HasPrivateKey: c.PrivateKeyPEM != "",
	}
	if parsed, err := pki.ParseCertificatePEM(c.CertificatePEM); err == nil {
		v.SerialNumber = parsed.SerialNumber.Text(16)
		if subject, err := pki.ExtractMRN(parsed); err == nil {
			v.SubjectMRN = subject
		}
	}
	if withPEM {
		v.CertificatePEM = c.CertificatePEM
	}
	return v
}
