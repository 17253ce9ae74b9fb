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

// Package utils contains helpers shared by the twin-vault commands.
package utils

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	log "github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/twinvault/go-twinvault/atm"
	"github.com/twinvault/go-twinvault/core"
)

// Version is the version of the twin-vault suite.
const Version = "1.0.0"

// VersionWithCommit appends build metadata set through linker flags.
func VersionWithCommit(gitCommit, gitDate string) string {
	vsn := Version
	if len(gitCommit) >= 8 {
		vsn += "-" + gitCommit[:8]
	}
	if gitDate != "" {
		vsn += "-" + gitDate
	}
	return vsn
}

// NewApp creates an app with sane defaults.
func NewApp(gitCommit, gitDate, usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = VersionWithCommit(gitCommit, gitDate)
	app.Usage = usage
	app.Copyright = "Copyright 2024-2025 The go-twinvault Authors"
	return app
}

const (
	peerCategory     = "PEER"
	registryCategory = "REGISTRY"
	coordCategory    = "COORDINATION"
	apiCategory      = "API AND AUDIT"
	loggingCategory  = "LOGGING"
)

var (
	PeerIDFlag = &cli.IntFlag{
		Name:     "peer",
		Usage:    "Identity of this peer within the cell (1 or 2)",
		Value:    1,
		Category: peerCategory,
	}
	DataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory for the account store and replication state",
		Value:    atm.DefaultDataDir(),
		Category: peerCategory,
	}
	MemoryStoreFlag = &cli.BoolFlag{
		Name:     "store.memory",
		Usage:    "Keep the account store in memory, state is lost on exit",
		Category: peerCategory,
	}
	AdminFlag = &cli.BoolFlag{
		Name:     "admin",
		Usage:    "Serve the admin surface (user and card registration)",
		Category: peerCategory,
	}
	RegistryHostFlag = &cli.StringFlag{
		Name:     "registry.host",
		Usage:    "Listen address of the service registry",
		Value:    "127.0.0.1",
		Category: registryCategory,
	}
	RegistryPortFlag = &cli.IntFlag{
		Name:     "registry.port",
		Usage:    "Listen port of the service registry (0 selects this peer's table entry)",
		Category: registryCategory,
	}
	PeerEndpointFlag = &cli.StringFlag{
		Name:     "peer.endpoint",
		Usage:    "Registry endpoint of the other cell member as host:port",
		Category: registryCategory,
	}
	PollIntervalFlag = &cli.DurationFlag{
		Name:     "coordinator.poll",
		Usage:    "Queue poll interval of the replication worker",
		Value:    core.DefaultPollInterval,
		Category: coordCategory,
	}
	RequestTimeoutFlag = &cli.DurationFlag{
		Name:     "coordinator.timeout",
		Usage:    "How long to wait for the peer to hand over the write token",
		Value:    core.DefaultRequestTimeout,
		Category: coordCategory,
	}
	HTTPEnabledFlag = &cli.BoolFlag{
		Name:     "http",
		Usage:    "Enable the HTTP status and websocket endpoint",
		Category: apiCategory,
	}
	HTTPListenAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP endpoint listening interface",
		Value:    "127.0.0.1",
		Category: apiCategory,
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP endpoint listening port",
		Value:    8554,
		Category: apiCategory,
	}
	HTTPCORSDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests",
		Category: apiCategory,
	}
	KafkaBrokersFlag = &cli.StringFlag{
		Name:     "audit.brokers",
		Usage:    "Comma separated Kafka brokers for the audit exporter (empty disables export)",
		Category: apiCategory,
	}
	KafkaTopicFlag = &cli.StringFlag{
		Name:     "audit.topic",
		Usage:    "Kafka topic the audit exporter publishes to",
		Value:    "twinvault.audit",
		Category: apiCategory,
	}
	VerbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug",
		Value:    3,
		Category: loggingCategory,
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs with JSON",
		Category: loggingCategory,
	}
)

// SetupLogger configures the root logger from the logging flags. Colored
// terminal output is used when stderr is an interactive terminal.
func SetupLogger(ctx *cli.Context) {
	output := io.Writer(os.Stderr)
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	var format log.Format
	switch {
	case ctx.Bool(LogJSONFlag.Name):
		format = log.JsonFormat()
	case usecolor:
		format = log.TerminalFormat()
	default:
		format = log.LogfmtFormat()
	}
	lvl := log.Lvl(ctx.Int(VerbosityFlag.Name))
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(output, format)))
}

// SetTwinvaultConfig applies command line flags on top of cfg. Flags the
// user did not set leave the config untouched.
func SetTwinvaultConfig(ctx *cli.Context, cfg *atm.Config) {
	if ctx.IsSet(PeerIDFlag.Name) {
		cfg.Node.PeerID = ctx.Int(PeerIDFlag.Name)
	}
	if ctx.IsSet(DataDirFlag.Name) {
		cfg.Node.DataDir = ctx.String(DataDirFlag.Name)
	}
	if ctx.Bool(MemoryStoreFlag.Name) {
		cfg.Node.DataDir = ""
	}
	if ctx.Bool(AdminFlag.Name) {
		cfg.Node.Admin = true
	}
	if ctx.IsSet(RegistryHostFlag.Name) {
		cfg.Registry.Host = ctx.String(RegistryHostFlag.Name)
	}
	if ctx.IsSet(RegistryPortFlag.Name) {
		cfg.Registry.Port = ctx.Int(RegistryPortFlag.Name)
	}
	if ctx.IsSet(PeerEndpointFlag.Name) {
		ep, err := ParseEndpoint(ctx.String(PeerEndpointFlag.Name))
		if err != nil {
			Fatalf("Invalid --%s: %v", PeerEndpointFlag.Name, err)
		}
		if cfg.Peers == nil {
			cfg.Peers = make(map[string]atm.Endpoint)
		}
		cfg.Peers[strconv.Itoa(cfg.OtherPeerID())] = ep
	}
	if ctx.IsSet(PollIntervalFlag.Name) {
		cfg.Coordinator.PollInterval = atm.Duration(ctx.Duration(PollIntervalFlag.Name))
	}
	if ctx.IsSet(RequestTimeoutFlag.Name) {
		cfg.Coordinator.RequestTimeout = atm.Duration(ctx.Duration(RequestTimeoutFlag.Name))
	}
	if ctx.Bool(HTTPEnabledFlag.Name) {
		cfg.HTTP.Host = ctx.String(HTTPListenAddrFlag.Name)
	}
	if ctx.IsSet(HTTPPortFlag.Name) {
		cfg.HTTP.Port = ctx.Int(HTTPPortFlag.Name)
	}
	if ctx.IsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTP.CORSDomains = SplitAndTrim(ctx.String(HTTPCORSDomainFlag.Name))
	}
	if ctx.IsSet(KafkaBrokersFlag.Name) {
		cfg.Exporter.Brokers = SplitAndTrim(ctx.String(KafkaBrokersFlag.Name))
	}
	if ctx.IsSet(KafkaTopicFlag.Name) {
		cfg.Exporter.Topic = ctx.String(KafkaTopicFlag.Name)
	}
}

// ParseEndpoint parses a host:port pair. A missing host defaults to the
// loopback interface.
func ParseEndpoint(s string) (atm.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return atm.Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return atm.Endpoint{}, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return atm.Endpoint{Host: host, Port: port}, nil
}

// SplitAndTrim splits input separated by a comma and trims excessive white
// space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// StartNode boots the peer and installs the interrupt handler: the first
// signal shuts down gracefully, repeated signals force an exit.
func StartNode(n *atm.Node) {
	if err := n.Start(); err != nil {
		Fatalf("Error starting the peer: %v", err)
	}
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)

		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Stop()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.Warn("Already shutting down, interrupt more to panic.", "times", i-1)
			}
		}
		panic("interrupted twin-vault shutdown")
	}()
}
