package main

import (
	"context"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/mujeresenbici/rodada/cmd/server/internal/commands"
	"github.com/mujeresenbici/rodada/internal/access"
)

var (
	version = "dev"
	cli     struct {
		Debug        bool                     `help:"Enable debug mode."`
		Version      kong.VersionFlag         `help:"Print the version."`
		Config       kong.ConfigFlag          `help:"YAML file with flag values."`
		Server       commands.ServerCmd       `cmd:"" help:"Start the registration website"`
		Summary      commands.SummaryCmd      `cmd:"" help:"Print the registration summary"`
		HashPassword commands.HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for --admin-password-hash"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("rodada"),
		kong.Description("Registration site for the Mujeres en Bici ride."),
		kong.Configuration(commands.YAMLConfig),
		kong.Vars{
			"version":             version,
			"default_admin_email": access.DefaultAdminEmail,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
