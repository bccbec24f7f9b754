package siteconfig

import (
	"fmt"
	"time"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/config/jsonconfig"
	"github.com/EJahren/ert/driver"
	"github.com/EJahren/ert/driver/batch"
	"github.com/EJahren/ert/driver/drivers"
	"github.com/EJahren/ert/driver/local"
	"github.com/EJahren/ert/driver/rsh"
)

// DriverConfig is an Implementation of the "Driver" option.
type DriverConfig interface {
	jsonconfig.Implementation
	Create(stat stats.StatsReceiver) (driver.Driver, error)
}

func driverImplementations() jsonconfig.Implementations {
	return jsonconfig.Implementations{
		"":       &LocalDriverConfig{Type: "local"},
		"local":  &LocalDriverConfig{Type: "local"},
		"lsf":    &BatchDriverConfig{Type: "lsf"},
		"torque": &BatchDriverConfig{Type: "torque"},
		"rsh":    &RshDriverConfig{Type: "rsh"},
		"sim":    &SimDriverConfig{Type: "sim"},
	}
}

// parseDuration treats "" as zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %v", field, d)
	}
	return d, nil
}

// Runs steps as child processes of this one.
type LocalDriverConfig struct {
	Type      string
	KillGrace string // will be parsed to a time.Duration
}

func (c *LocalDriverConfig) Validate() error {
	_, err := parseDuration("KillGrace", c.KillGrace)
	return err
}

func (c *LocalDriverConfig) Create(stat stats.StatsReceiver) (driver.Driver, error) {
	grace, _ := parseDuration("KillGrace", c.KillGrace)
	return local.NewDriver(local.Options{KillGrace: grace}, stat), nil
}

// Submits steps to an LSF or Torque cluster.
type BatchDriverConfig struct {
	Type            string
	Queue           string
	ResourceRequest string
	CommandTimeout  string // will be parsed to a time.Duration
	SubmitRetries   uint64
}

func (c *BatchDriverConfig) Validate() error {
	_, err := parseDuration("CommandTimeout", c.CommandTimeout)
	return err
}

func (c *BatchDriverConfig) Create(stat stats.StatsReceiver) (driver.Driver, error) {
	timeout, _ := parseDuration("CommandTimeout", c.CommandTimeout)
	return batch.NewDriver(batch.Options{
		Dialect:         c.Type,
		Queue:           c.Queue,
		ResourceRequest: c.ResourceRequest,
		CommandTimeout:  timeout,
		SubmitRetries:   c.SubmitRetries,
	}, nil, stat)
}

type HostConfig struct {
	Addr  string
	Slots int
}

// Starts steps over ssh on a fixed set of hosts.
type RshDriverConfig struct {
	Type                  string
	Hosts                 []HostConfig
	User                  string
	KeyFile               string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	DialTimeout           string // will be parsed to a time.Duration
	DialRetries           uint64
	CommandTimeout        string // will be parsed to a time.Duration
}

func (c *RshDriverConfig) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("Hosts: at least one host is required")
	}
	for _, h := range c.Hosts {
		if h.Addr == "" || h.Slots <= 0 {
			return fmt.Errorf("Hosts: need an address and positive slots, got %+v", h)
		}
	}
	if c.KeyFile == "" {
		return fmt.Errorf("KeyFile is required")
	}
	if c.KnownHosts == "" && !c.InsecureIgnoreHostKey {
		return fmt.Errorf("KnownHosts is required unless InsecureIgnoreHostKey is set")
	}
	if _, err := parseDuration("DialTimeout", c.DialTimeout); err != nil {
		return err
	}
	_, err := parseDuration("CommandTimeout", c.CommandTimeout)
	return err
}

func (c *RshDriverConfig) Create(stat stats.StatsReceiver) (driver.Driver, error) {
	timeout, _ := parseDuration("DialTimeout", c.DialTimeout)
	cmdTimeout, _ := parseDuration("CommandTimeout", c.CommandTimeout)
	sh, err := rsh.NewSSHShell(rsh.SSHOptions{
		User:                  c.User,
		KeyFile:               c.KeyFile,
		KnownHosts:            c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		DialTimeout:           timeout,
		DialRetries:           c.DialRetries,
		CommandTimeout:        cmdTimeout,
	})
	if err != nil {
		return nil, err
	}
	hosts := make([]rsh.Host, len(c.Hosts))
	for i, h := range c.Hosts {
		hosts[i] = rsh.Host{Addr: h.Addr, Slots: h.Slots}
	}
	return rsh.NewDriver(hosts, sh, stat)
}

// Simulates every step with Script unless the step carries its own.
type SimDriverConfig struct {
	Type   string
	Script []string
}

func (c *SimDriverConfig) Validate() error {
	return nil
}

func (c *SimDriverConfig) Create(stat stats.StatsReceiver) (driver.Driver, error) {
	return drivers.NewSimDriver(c.Script...), nil
}
