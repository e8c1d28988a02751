package registry

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
)

// MMSIAttribute is the vessel attribute carrying the MMSI.
const MMSIAttribute = "mmsi-number"

// CertificateRecord is a certificate as listed on a registry entity.
type CertificateRecord struct {
	ID           json.Number `json:"id,omitempty"`
	Certificate  string      `json:"certificate"`
	SerialNumber string      `json:"serialNumber,omitempty"`
	Start        string      `json:"start,omitempty"`
	End          string      `json:"end,omitempty"`
	Revoked      bool        `json:"revoked"`
	RevokeReason string      `json:"revokeReason,omitempty"`
}

// RemoteCertificate is a parsed registry certificate with the id the
// registry revokes it by.
type RemoteCertificate struct {
	ID          string
	Certificate *x509.Certificate
}

// Base holds the fields every registry entity carries.
type Base struct {
	ID             json.Number         `json:"id,omitempty"`
	MRN            string              `json:"mrn"`
	IDOrganization json.Number         `json:"idOrganization,omitempty"`
	Certificates   []CertificateRecord `json:"certificates,omitempty"`
}

func (b *Base) GetMRN() string { return b.MRN }
func (b *Base) SetMRN(v string) { b.MRN = v }
func (b *Base) GetCertificates() []CertificateRecord { return b.Certificates }

// Entity is the wire shape of one registry entity kind.
type Entity interface {
	GetMRN() string
	SetMRN(string)
	GetName() string
	SetName(string)
	GetCertificates() []CertificateRecord
}

type Device struct {
	Base
	Name string `json:"name"`
}

func (d *Device) GetName() string { return d.Name }
func (d *Device) SetName(v string) { d.Name = v }

type Service struct {
	Base
	Name            string `json:"name"`
	InstanceVersion string `json:"instanceVersion"`
}

func (s *Service) GetName() string { return s.Name }
func (s *Service) SetName(v string) { s.Name = v }

type VesselAttribute struct {
	AttributeName  string `json:"attributeName"`
	AttributeValue string `json:"attributeValue"`
}

type Vessel struct {
	Base
	Name       string            `json:"name"`
	Attributes []VesselAttribute `json:"attributes,omitempty"`
}

func (v *Vessel) GetName() string { return v.Name }
func (v *Vessel) SetName(n string) { v.Name = n }

// MMSI returns the mmsi-number attribute, if present.
func (v *Vessel) MMSI() (string, bool) {
	for _, a := range v.Attributes {
		if a.AttributeName == MMSIAttribute {
			return a.AttributeValue, true
		}
	}
	return "", false
}

type User struct {
	Base
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
}

func (u *User) GetName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// SetName splits on the first space into first and last name.
func (u *User) SetName(v string) {
	first, last, _ := strings.Cut(strings.TrimSpace(v), " ")
	u.FirstName = first
	u.LastName = strings.TrimSpace(last)
}

type Role struct {
	Base
	RoleName string `json:"roleName"`
}

func (r *Role) GetName() string { return r.RoleName }
func (r *Role) SetName(v string) { r.RoleName = v }

// Kind describes how one entity type is addressed and shaped on the wire.
type Kind interface {
	Type() models.EntityType
	Segment() string
	RequiresVersion() bool
	New() Entity
}

type kind struct {
	entityType models.EntityType
	versioned  bool
	newEntity  func() Entity
}

func (k kind) Type() models.EntityType { return k.entityType }
func (k kind) Segment() string { return mrn.TypeSegment(k.entityType) }
func (k kind) RequiresVersion() bool { return k.versioned }
func (k kind) New() Entity { return k.newEntity() }

var (
	KindDevice  Kind = kind{entityType: models.EntityTypeDevice, newEntity: func() Entity { return &Device{} }}
	KindService Kind = kind{entityType: models.EntityTypeService, versioned: true, newEntity: func() Entity { return &Service{} }}
	KindVessel  Kind = kind{entityType: models.EntityTypeVessel, newEntity: func() Entity { return &Vessel{} }}
	KindUser    Kind = kind{entityType: models.EntityTypeUser, newEntity: func() Entity { return &User{} }}
	KindRole    Kind = kind{entityType: models.EntityTypeRole, newEntity: func() Entity { return &Role{} }}
)

var kinds = map[models.EntityType]Kind{
	models.EntityTypeDevice:  KindDevice,
	models.EntityTypeService: KindService,
	models.EntityTypeVessel:  KindVessel,
	models.EntityTypeUser:    KindUser,
	models.EntityTypeRole:    KindRole,
}

// KindFor resolves the wire kind for an entity type.
func KindFor(t models.EntityType) (Kind, error) {
	k, ok := kinds[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEntityType, t)
	}
	return k, nil
}

// FromModel builds the wire shape for a local entity.
func FromModel(e *models.Entity) (Kind, Entity, error) {
	k, err := KindFor(e.Type)
	if err != nil {
		return nil, nil, err
	}

	w := k.New()
	w.SetName(e.Name)
	w.SetMRN(e.MRN)

	switch v := w.(type) {
	case *Service:
		v.InstanceVersion = e.VersionString()
	case *Vessel:
		if e.MMSI != nil {
			v.Attributes = append(v.Attributes, VesselAttribute{AttributeName: MMSIAttribute, AttributeValue: *e.MMSI})
		}
	}

	return k, w, nil
}
