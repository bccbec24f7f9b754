// Package siteconfig turns a site's JSON configuration into the installed jobs,
// the driver and the job queue of a run.
//
// Example:
//   {
//     "Driver": {"Type": "lsf", "Queue": "normal", "ResourceRequest": "select[mem>4000]"},
//     "Queue":  {"MaxRunning": 50, "MaxSubmit": 2, "PollInterval": "2s"},
//     "Jobs":   {"JobDirs": ["/project/res/jobs"]}
//   }
package siteconfig

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/config/jsonconfig"
	"github.com/EJahren/ert/driver"
	"github.com/EJahren/ert/driver/batch"
	"github.com/EJahren/ert/extjob"
	"github.com/EJahren/ert/queue"
)

// ErrNoResourceRequest is returned when updating the resource request of a
// driver that has none.
var ErrNoResourceRequest = errors.New("driver does not take a resource request")

// SiteConfig owns the objects a site configuration describes.
// The job queue is created on first use; Close stops it.
type SiteConfig struct {
	driverType string
	drv        driver.Driver
	queueCfg   queue.Config
	jobs       *extjob.Registry
	stat       stats.StatsReceiver

	mu sync.Mutex
	q  *queue.JobQueue
}

type Option func(*options)

type options struct {
	environ []string
	drv     driver.Driver
}

// WithEnviron sets the environment job files see as env.<VAR>.
// The default is the process environment.
func WithEnviron(environ []string) Option {
	return func(o *options) { o.environ = environ }
}

// WithDriver replaces the configured driver, e.g. for dry runs.
func WithDriver(d driver.Driver) Option {
	return func(o *options) { o.drv = d }
}

// Load reads configFlag, either literal JSON or a file name, and parses it.
func Load(configFlag string, stat stats.StatsReceiver, opts ...Option) (*SiteConfig, error) {
	text, err := jsonconfig.GetConfigText(configFlag, nil)
	if err != nil {
		return nil, extjob.NewConfigError(configFlag, "", err)
	}
	return Parse(text, stat, opts...)
}

// Parse builds a SiteConfig from JSON text. Any error is an extjob.ConfigError.
func Parse(text []byte, stat stats.StatsReceiver, opts ...Option) (*SiteConfig, error) {
	o := options{environ: os.Environ()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := Schema().Parse(text)
	if err != nil {
		return nil, extjob.NewConfigError("site config", "", err)
	}
	driverCfg := cfg["Driver"].(DriverConfig)
	queueCfg := cfg["Queue"].(*QueueConfig)
	jobsCfg := cfg["Jobs"].(*JobsConfig)

	jobs, err := jobsCfg.Create(o.environ)
	if err != nil {
		return nil, err
	}

	s := &SiteConfig{
		driverType: driverType(driverCfg),
		queueCfg:   queueCfg.Create(),
		jobs:       jobs,
		stat:       stat,
		drv:        o.drv,
	}
	if s.drv == nil {
		if s.drv, err = driverCfg.Create(stat.Scope("driver")); err != nil {
			return nil, extjob.NewConfigError("site config", "Driver", err)
		}
	} else {
		s.driverType = "override"
	}
	log.WithFields(log.Fields{
		"driver":     s.driverType,
		"jobs":       jobs.Len(),
		"maxRunning": s.queueCfg.MaxRunning,
	}).Info("Site config loaded")
	return s, nil
}

func driverType(c DriverConfig) string {
	switch c := c.(type) {
	case *LocalDriverConfig:
		return c.Type
	case *BatchDriverConfig:
		return c.Type
	case *RshDriverConfig:
		return c.Type
	case *SimDriverConfig:
		return c.Type
	}
	return ""
}

// InstalledJobs is the registry of every job the site installs. It is frozen
// by the first workflow built from it.
func (s *SiteConfig) InstalledJobs() *extjob.Registry {
	return s.jobs
}

func (s *SiteConfig) Driver() driver.Driver {
	return s.drv
}

// DriverType is the configured driver's Type, or "override" for WithDriver.
func (s *SiteConfig) DriverType() string {
	return s.driverType
}

func (s *SiteConfig) QueueConfig() queue.Config {
	return s.queueCfg
}

// JobQueue returns the site's queue, creating it on first call.
func (s *SiteConfig) JobQueue() *queue.JobQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		s.q = queue.New(s.drv, s.queueCfg, s.stat)
	}
	return s.q
}

// UpdateResourceRequest joins parts with spaces and uses the result for every
// later batch submission.
func (s *SiteConfig) UpdateResourceRequest(parts ...string) error {
	b, ok := s.drv.(*batch.Driver)
	if !ok {
		return errors.Wrapf(ErrNoResourceRequest, "%s driver", s.driverType)
	}
	req := strings.Join(parts, " ")
	b.SetResourceRequest(req)
	log.WithFields(log.Fields{"resourceRequest": req}).Info("Updated resource request")
	return nil
}

// ResourceRequest is the current batch resource request, "" for other drivers.
func (s *SiteConfig) ResourceRequest() string {
	if b, ok := s.drv.(*batch.Driver); ok {
		return b.ResourceRequest()
	}
	return ""
}

// Close stops the job queue if one was created.
func (s *SiteConfig) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q != nil {
		s.q.Stop()
	}
}
