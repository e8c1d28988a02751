package commands

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfeidau/mcpcerts/internal/app"
)

type CertCmd struct {
	List     CertListCmd     `cmd:"" help:"List the certificates of an entity"`
	Generate CertGenerateCmd `cmd:"" help:"Issue a new certificate for an entity"`
	Latest   CertLatestCmd   `cmd:"" help:"Show the latest usable certificate, issuing one when needed"`
	Revoke   CertRevokeCmd   `cmd:"" help:"Revoke a certificate at the registry"`
	Delete   CertDeleteCmd   `cmd:"" help:"Delete a certificate locally"`
	Sync     CertSyncCmd     `cmd:"" help:"Reconcile an entity's certificates with the registry"`
}

type CertListCmd struct {
	EntityID uuid.UUID `help:"Entity id" required:""`
	PEM      bool      `help:"Include certificate PEM"`
}

func (c *CertListCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		certs, err := a.Manager.FindAllByEntityID(ctx, c.EntityID)
		if err != nil {
			return err
		}
		views := make([]certificateView, 0, len(certs))
		for _, cert := range certs {
			views = append(views, newCertificateView(cert, c.PEM))
		}
		return printJSON(views)
	})
}

type CertGenerateCmd struct {
	EntityID uuid.UUID `help:"Entity id" required:""`
}

func (c *CertGenerateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		cert, err := a.Manager.Generate(ctx, c.EntityID)
		if err != nil {
			return err
		}
		return printJSON(newCertificateView(cert, true))
	})
}

type CertLatestCmd struct {
	EntityID uuid.UUID `help:"Entity id" required:""`
}

func (c *CertLatestCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		cert, err := a.Manager.GetLatestOrCreate(ctx, c.EntityID)
		if err != nil {
			return err
		}
		return printJSON(newCertificateView(cert, true))
	})
}

type CertRevokeCmd struct {
	ID uuid.UUID `arg:"" help:"Certificate id"`
}

func (c *CertRevokeCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		cert, err := a.Manager.Revoke(ctx, c.ID)
		if err != nil {
			return err
		}
		return printJSON(newCertificateView(cert, false))
	})
}

type CertDeleteCmd struct {
	ID uuid.UUID `arg:"" help:"Certificate id"`
}

func (c *CertDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if err := a.Manager.Delete(ctx, c.ID); err != nil {
			return err
		}
		return printJSON(map[string]string{"deleted": c.ID.String()})
	})
}

type CertSyncCmd struct {
	EntityID uuid.UUID `help:"Entity id" required:""`
}

func (c *CertSyncCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		result, err := a.Manager.SyncWithRegistry(ctx, c.EntityID)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"revoked": result.Revoked, "imported": result.Imported})
	})
}
