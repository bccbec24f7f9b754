package siteconfig

import (
	"fmt"

	"github.com/EJahren/ert/config/jsonconfig"
	"github.com/EJahren/ert/extjob"
	"github.com/EJahren/ert/queue"
)

// QueueConfig holds the "Queue" option. Zero values take the queue defaults.
type QueueConfig struct {
	Type         string
	MaxRunning   int
	MaxSubmit    int
	PollInterval string // will be parsed to a time.Duration
	MaxLostPolls int
	Workers      int
	SubmitRate   float64
	StepTimeout  string // will be parsed to a time.Duration
}

func (c *QueueConfig) Validate() error {
	if c.MaxRunning < 0 || c.MaxSubmit < 0 || c.MaxLostPolls < 0 || c.Workers < 0 || c.SubmitRate < 0 {
		return fmt.Errorf("negative value in %+v", *c)
	}
	if _, err := parseDuration("PollInterval", c.PollInterval); err != nil {
		return err
	}
	_, err := parseDuration("StepTimeout", c.StepTimeout)
	return err
}

func (c *QueueConfig) Create() queue.Config {
	poll, _ := parseDuration("PollInterval", c.PollInterval)
	timeout, _ := parseDuration("StepTimeout", c.StepTimeout)
	return queue.Config{
		MaxRunning:   c.MaxRunning,
		MaxSubmit:    c.MaxSubmit,
		PollInterval: poll,
		MaxLostPolls: c.MaxLostPolls,
		Workers:      c.Workers,
		SubmitRate:   c.SubmitRate,
		StepTimeout:  timeout,
	}
}

// JobsConfig holds the "Jobs" option: HCL job files to install.
type JobsConfig struct {
	Type     string
	JobDirs  []string
	JobFiles []string
}

func (c *JobsConfig) Validate() error {
	return nil
}

// Create loads every configured file into a new registry.
// JobDirs load before JobFiles.
func (c *JobsConfig) Create(environ []string) (*extjob.Registry, error) {
	reg := extjob.NewRegistry()
	l := extjob.NewLoader(environ)
	for _, d := range c.JobDirs {
		if err := l.LoadDir(reg, d); err != nil {
			return nil, err
		}
	}
	for _, f := range c.JobFiles {
		if err := l.LoadFile(reg, f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Schema returns a fresh schema for site configuration.
func Schema() jsonconfig.Schema {
	return jsonconfig.Schema{
		"Driver": driverImplementations(),
		"Queue":  jsonconfig.Implementations{"": &QueueConfig{}},
		"Jobs":   jsonconfig.Implementations{"": &JobsConfig{}},
	}
}
