package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/mcpcerts/internal/app"
	"github.com/wolfeidau/mcpcerts/internal/models"
	"github.com/wolfeidau/mcpcerts/internal/mrn"
	"github.com/wolfeidau/mcpcerts/internal/registry"
	"github.com/wolfeidau/mcpcerts/internal/store"
)

type EntityCmd struct {
	Get    EntityGetCmd    `cmd:"" help:"Show an entity"`
	List   EntityListCmd   `cmd:"" help:"List local entities"`
	Create EntityCreateCmd `cmd:"" help:"Create an entity and register it with the registry"`
	Delete EntityDeleteCmd `cmd:"" help:"Delete an entity locally and at the registry"`
}

type EntityGetCmd struct {
	MRN     string `help:"Entity MRN" required:""`
	Type    string `help:"Entity type, needed with --remote" default:"DEVICE"`
	Version string `help:"Instance version for services"`
	Remote  bool   `help:"Read the registry's copy instead of the local one"`
}

func (e *EntityGetCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		if !e.Remote {
			entity, err := a.Entities.GetByMRN(ctx, e.MRN)
			if err != nil {
				return err
			}
			return printJSON(newEntityView(entity))
		}

		client, err := a.Registry()
		if err != nil {
			return err
		}
		t, err := models.ParseEntityType(e.Type)
		if err != nil {
			return err
		}
		kind, err := registry.KindFor(t)
		if err != nil {
			return err
		}
		remote, err := client.GetEntity(ctx, kind, e.MRN, e.Version)
		if err != nil {
			return err
		}
		return printJSON(remote)
	})
}

type EntityListCmd struct {
	Type  string `help:"Only list entities of this type"`
	Limit int    `help:"Maximum number of entities" default:"100"`
}

func (e *EntityListCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		opts := store.ListEntitiesOptions{Limit: e.Limit}
		if e.Type != "" {
			t, err := models.ParseEntityType(e.Type)
			if err != nil {
				return err
			}
			opts.Type = t
		}

		entities, err := a.Entities.List(ctx, opts)
		if err != nil {
			return err
		}

		views := make([]entityView, 0, len(entities))
		for _, entity := range entities {
			views = append(views, newEntityView(entity))
		}
		return printJSON(views)
	})
}

type EntityCreateCmd struct {
	Name    string `help:"Display name" required:""`
	Type    string `help:"Entity type (device, service, vessel, user, role)" default:"DEVICE"`
	ID      string `help:"Raw identifier used to build the MRN, defaults to the name"`
	MMSI    string `help:"Maritime mobile service identity"`
	Version string `help:"Instance version, required for services"`
}

func (e *EntityCreateCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		t, err := models.ParseEntityType(e.Type)
		if err != nil {
			return err
		}

		entity, err := models.NewEntity(e.Name, entityMRN(a.Naming, t, e.ID, e.Name), t, optional(e.MMSI), optional(e.Version))
		if err != nil {
			return err
		}

		if client, err := a.Registry(); err == nil {
			kind, wire, err := registry.FromModel(entity)
			if err != nil {
				return err
			}
			if _, err := client.CreateEntity(ctx, kind, wire); err != nil {
				return err
			}
		}

		if err := a.Entities.Save(ctx, entity); err != nil {
			return fmt.Errorf("failed to save entity: %w", err)
		}

		return printJSON(newEntityView(entity))
	})
}

type EntityDeleteCmd struct {
	MRN string `help:"Entity MRN" required:""`
}

func (e *EntityDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		entity, err := a.Entities.GetByMRN(ctx, e.MRN)
		if err != nil {
			return err
		}

		if client, err := a.Registry(); err == nil {
			kind, err := registry.KindFor(entity.Type)
			if err != nil {
				return err
			}
			if _, err := client.DeleteEntity(ctx, kind, entity.MRN, entity.VersionString()); err != nil {
				return err
			}
		}

		if err := a.Entities.Delete(ctx, entity.ID); err != nil {
			return fmt.Errorf("failed to delete entity: %w", err)
		}

		return printJSON(map[string]string{"deleted": entity.MRN})
	})
}

// entityMRN builds the MRN from the explicit id, falling back to the name.
func entityMRN(naming *mrn.Naming, t models.EntityType, id, name string) string {
	rawID := optional(id)
	if rawID == nil {
		rawID = optional(name)
	}
	return naming.ConstructMRNNullable(t, rawID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
