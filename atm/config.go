// Copyright 2025 The go-twinvault Authors
// This file is part of the go-twinvault library.
//
// The go-twinvault library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-twinvault library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-twinvault library. If not, see <http://www.gnu.org/licenses/>.

// Package atm assembles one peer of the twin-vault cell: the account store,
// the registry with its client-facing services, the replication coordinator
// and the optional HTTP and audit surfaces.
package atm

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/naoina/toml"

	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/exporter"
)

// Duration is a time.Duration rendered human-readable in TOML ("1s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Endpoint locates one registry transport.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// NodeConfig identifies this peer and its on-disk home.
type NodeConfig struct {
	PeerID  int
	DataDir string // empty selects an in-memory store
	Admin   bool   // bind the admin service
}

// CoordinationConfig carries the replication timing knobs.
type CoordinationConfig struct {
	PollInterval   Duration
	RequestTimeout Duration
}

// HTTPConfig describes the optional HTTP endpoint carrying /status and the
// websocket transport. Disabled unless Host is set.
type HTTPConfig struct {
	Host        string
	Port        int
	CORSDomains []string
}

// Config is the full per-peer configuration. The Peers table maps peer id to
// registry endpoint for both members of the cell.
type Config struct {
	Node        NodeConfig
	Registry    Endpoint
	Peers       map[string]Endpoint
	Coordinator CoordinationConfig
	HTTP        HTTPConfig
	Exporter    exporter.Config
}

// DefaultConfig mirrors the standard two-peer loopback deployment.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			PeerID:  1,
			DataDir: DefaultDataDir(),
		},
		Registry: Endpoint{Host: "127.0.0.1"},
		Peers: map[string]Endpoint{
			"1": {Host: "127.0.0.1", Port: 29054},
			"2": {Host: "127.0.0.1", Port: 29055},
		},
		Coordinator: CoordinationConfig{
			PollInterval:   Duration(core.DefaultPollInterval),
			RequestTimeout: Duration(core.DefaultRequestTimeout),
		},
		HTTP: HTTPConfig{Port: 8554},
		Exporter: exporter.Config{
			Topic: "twinvault.audit",
		},
	}
}

// DefaultDataDir is the platform-default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".twinvault")
}

// Sanitize validates the cell layout and fills derived defaults: the
// registry defaults to this peer's entry in the Peers table.
func (c *Config) Sanitize() error {
	if c.Node.PeerID != 1 && c.Node.PeerID != 2 {
		return fmt.Errorf("peer id must be 1 or 2, have %d", c.Node.PeerID)
	}
	if _, ok := c.Peers[strconv.Itoa(c.OtherPeerID())]; !ok {
		return fmt.Errorf("no endpoint configured for peer %d", c.OtherPeerID())
	}
	if c.Registry.Host == "" {
		c.Registry.Host = "127.0.0.1"
	}
	if c.Registry.Port == 0 {
		self, ok := c.Peers[strconv.Itoa(c.Node.PeerID)]
		if !ok {
			return fmt.Errorf("no endpoint configured for peer %d", c.Node.PeerID)
		}
		c.Registry.Port = self.Port
	}
	return nil
}

// OtherPeerID returns the id of the remote member of the cell.
func (c *Config) OtherPeerID() int {
	if c.Node.PeerID == 1 {
		return 2
	}
	return 1
}

// PeerEndpoint returns the remote peer's registry endpoint.
func (c *Config) PeerEndpoint() Endpoint {
	return c.Peers[strconv.Itoa(c.OtherPeerID())]
}

// StorePath returns the store directory of this peer, or "" for in-memory.
func (c *Config) StorePath() string {
	if c.Node.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Node.DataDir, fmt.Sprintf("peer%d", c.Node.PeerID))
}

// tomlSettings keeps config keys exactly as the field names and rejects
// unknown keys instead of silently dropping them.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadConfig merges the TOML file into cfg, keeping values the file does not
// mention.
func LoadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// EncodeConfig renders cfg as TOML, the dumpconfig format.
func EncodeConfig(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}
