package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/mcpcerts/cmd/mcpcerts/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Ping          commands.PingCmd          `cmd:"" help:"Check the identity registry is reachable"`
		Entity        commands.EntityCmd        `cmd:"" help:"Manage entities"`
		Cert          commands.CertCmd          `cmd:"" help:"Manage entity certificates"`
		SignatureCert commands.SignatureCertCmd `cmd:"" name:"signature-cert" help:"Get or create the signature certificate of an entity"`
		Sign          commands.SignCmd          `cmd:"" help:"Sign a payload with a certificate"`
		Verify        commands.VerifyCmd        `cmd:"" help:"Verify a signature against an entity's current certificate"`
		Migrate       commands.MigrateCmd       `cmd:"" help:"Run database migrations"`
		Debug         bool                      `help:"Enable debug mode."`
		Config        string                    `help:"Path to the YAML configuration file." type:"path" env:"MCPCERTS_CONFIG"`
		Version       kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Description("Maritime identity certificate management."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Config: cli.Config})
	cmd.FatalIfErrorf(err)
}
