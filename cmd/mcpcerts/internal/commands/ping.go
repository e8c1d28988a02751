package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/mcpcerts/internal/app"
)

type PingCmd struct{}

func (p *PingCmd) Run(ctx context.Context, globals *Globals) error {
	return withApp(ctx, globals, func(ctx context.Context, a *app.App) error {
		client, err := a.Registry()
		if err != nil {
			return err
		}
		if err := client.CheckConnectivity(ctx); err != nil {
			return err
		}
		fmt.Printf("registry %s is reachable\n", a.Naming.BaseURL())
		return nil
	})
}
