package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/wolfeidau/mcpcerts/internal/app"
	"github.com/wolfeidau/mcpcerts/internal/models"
)

type SignatureCertCmd struct {
	Name    string `help:"Entity name" required:""`
	Type    string `help:"Entity type used when the entity is created" default:"DEVICE"`
	MMSI    string `help:"MMSI used when the entity is created"`
	Version string `help:"Instance version used when a service is created"`
}

func (s *SignatureCertCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		t, err := models.ParseEntityType(s.Type)
		if err != nil {
			return err
		}
		sc, err := a.Facade.GetSignatureCertificate(ctx, s.Name, optional(s.MMSI), optional(s.Version), t)
		if err != nil {
			return err
		}
		return printJSON(sc)
	})
}

// PayloadFlags selects the signed content: inline text or a file.
type PayloadFlags struct {
	Payload string `help:"Payload text" xor:"payload"`
	File    string `help:"Read the payload from a file" type:"existingfile" xor:"payload"`
}

func (p PayloadFlags) read() ([]byte, error) {
	switch {
	case p.File != "":
		return os.ReadFile(p.File)
	case p.Payload != "":
		return []byte(p.Payload), nil
	default:
		return nil, errors.New("one of --payload or --file is required")
	}
}

type SignCmd struct {
	CertificateID uuid.UUID `help:"Certificate id" required:""`
	Algorithm     string    `help:"Signature algorithm" default:"SHA256withECDSA"`

	PayloadFlags `embed:""`
}

func (s *SignCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		payload, err := s.read()
		if err != nil {
			return err
		}
		sig, err := a.Facade.GenerateEntitySignature(ctx, s.CertificateID, s.Algorithm, payload)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(sig))
		return nil
	})
}

type VerifyCmd struct {
	MRN       string `help:"Entity MRN" xor:"entity"`
	MMSI      string `help:"Entity MMSI" xor:"entity"`
	Algorithm string `help:"Signature algorithm" default:"SHA256withECDSA"`
	Signature string `help:"Base64 signature" required:""`

	PayloadFlags `embed:""`
}

func (v *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		payload, err := v.read()
		if err != nil {
			return err
		}
		sig, err := base64.StdEncoding.DecodeString(v.Signature)
		if err != nil {
			return fmt.Errorf("invalid signature encoding: %w", err)
		}

		var ok bool
		switch {
		case v.MRN != "":
			ok, err = a.Facade.VerifyEntitySignatureByMRN(ctx, v.MRN, v.Algorithm, payload, sig)
		case v.MMSI != "":
			ok, err = a.Facade.VerifyEntitySignatureByMMSI(ctx, v.MMSI, v.Algorithm, payload, sig)
		default:
			return errors.New("one of --mrn or --mmsi is required")
		}
		if err != nil {
			return err
		}

		return printJSON(map[string]bool{"valid": ok})
	})
}
