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

// twinvault runs one peer of a two-node replicated teller machine cell.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/twinvault/go-twinvault/atm"
	"github.com/twinvault/go-twinvault/cmd/utils"
)

const clientIdentifier = "twinvault"

var (
	// Git SHA1 commit hash and date of the release (set via linker flags).
	gitCommit = ""
	gitDate   = ""

	app = utils.NewApp(gitCommit, gitDate, "the twin-vault teller machine peer")

	nodeFlags = []cli.Flag{
		utils.PeerIDFlag,
		utils.DataDirFlag,
		utils.MemoryStoreFlag,
		utils.AdminFlag,
		utils.RegistryHostFlag,
		utils.RegistryPortFlag,
		utils.PeerEndpointFlag,
		utils.PollIntervalFlag,
		utils.RequestTimeoutFlag,
		configFileFlag,
	}
	apiFlags = []cli.Flag{
		utils.HTTPEnabledFlag,
		utils.HTTPListenAddrFlag,
		utils.HTTPPortFlag,
		utils.HTTPCORSDomainFlag,
		utils.KafkaBrokersFlag,
		utils.KafkaTopicFlag,
	}
	logFlags = []cli.Flag{
		utils.VerbosityFlag,
		utils.LogJSONFlag,
	}
)

func init() {
	app.Action = twinvault
	app.HideVersion = true // we have a command to print the version
	app.Commands = []*cli.Command{
		versionCommand,
		dumpConfigCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = append(app.Flags, nodeFlags...)
	app.Flags = append(app.Flags, apiFlags...)
	app.Flags = append(app.Flags, logFlags...)
	app.Before = func(ctx *cli.Context) error {
		utils.SetupLogger(ctx)
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// twinvault is the main entry point when no subcommand is given. It brings
// one peer online and blocks until the peer is shut down.
func twinvault(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg := makeConfig(ctx)
	node, err := atm.New(cfg)
	if err != nil {
		utils.Fatalf("Failed to assemble the peer: %v", err)
	}
	utils.StartNode(node)
	node.Wait()
	return nil
}

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `
The output of this command is supposed to be machine-readable.`,
}

func printVersion(ctx *cli.Context) error {
	fmt.Println(clientIdentifier)
	fmt.Println("Version:", utils.Version)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Println("Git Commit Date:", gitDate)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
