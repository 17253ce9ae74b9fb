// Copyright 2025 The go-twinvault Authors
// This file is part of go-twinvault.
//
// go-twinvault is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-twinvault is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-twinvault. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/twinvault/go-twinvault/atm"
	"github.com/twinvault/go-twinvault/cmd/utils"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}

	dumpConfigCommand = &cli.Command{
		Action:    dumpConfig,
		Name:      "dumpconfig",
		Usage:     "Export configuration values in a TOML format",
		ArgsUsage: " ",
		Description: `
The dumpconfig command shows the effective configuration: defaults overlaid
with the config file and the command line flags. Its output is a valid
--config file.`,
	}
)

// makeConfig resolves the effective configuration. Precedence is command
// line flags over the config file over built-in defaults.
func makeConfig(ctx *cli.Context) atm.Config {
	cfg := atm.DefaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := atm.LoadConfig(file, &cfg); err != nil {
			utils.Fatalf("%v", err)
		}
	}
	utils.SetTwinvaultConfig(ctx, &cfg)
	if err := cfg.Sanitize(); err != nil {
		utils.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func dumpConfig(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	out, err := atm.EncodeConfig(&cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "# Effective configuration of peer %d.\n\n", cfg.Node.PeerID)
	_, err = os.Stdout.Write(out)
	return err
}
