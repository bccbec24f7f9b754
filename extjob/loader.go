package extjob

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zclconf/go-cty/cty"
)

// hclJobFile is the top-level structure of a job file:
//
//	job "ECLIPSE100" {
//	  executable          = "${env.ECL_HOME}/bin/eclipse"
//	  args                = ["<ECLBASE>"]
//	  env                 = { OMP_NUM_THREADS = "4" }
//	  target_file         = "<ECLBASE>.UNSMRY"
//	  max_running         = 10
//	  max_running_minutes = 120
//	}
type hclJobFile struct {
	Jobs []*hclJob `hcl:"job,block"`
}

type hclJob struct {
	Name              string            `hcl:"name,label"`
	Executable        string            `hcl:"executable"`
	Args              []string          `hcl:"args,optional"`
	Env               map[string]string `hcl:"env,optional"`
	TargetFile        string            `hcl:"target_file,optional"`
	Stdout            string            `hcl:"stdout,optional"`
	Stderr            string            `hcl:"stderr,optional"`
	MaxRunning        int               `hcl:"max_running,optional"`
	MaxRunningMinutes int               `hcl:"max_running_minutes,optional"`
}

func (j *hclJob) definition() Definition {
	return Definition{
		Name:           j.Name,
		Executable:     j.Executable,
		Args:           j.Args,
		Env:            j.Env,
		TargetFile:     j.TargetFile,
		Stdout:         j.Stdout,
		Stderr:         j.Stderr,
		MaxRunning:     j.MaxRunning,
		MaxRunningTime: time.Duration(j.MaxRunningMinutes) * time.Minute,
	}
}

// Loader reads job files into a Registry.
type Loader struct {
	parser *hclparse.Parser
	ctx    *hcl.EvalContext
}

// NewLoader returns a Loader whose files can read environ as env.<VAR>.
func NewLoader(environ []string) *Loader {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		vars[kv[:i]] = cty.StringVal(kv[i+1:])
	}
	return &Loader{
		parser: hclparse.NewParser(),
		ctx: &hcl.EvalContext{
			Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
		},
	}
}

// LoadFile registers every job in the HCL file at path.
func (l *Loader) LoadFile(reg *Registry, path string) error {
	f, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return NewConfigError(path, "", errors.Wrap(diags, "parse"))
	}
	var parsed hclJobFile
	if diags := gohcl.DecodeBody(f.Body, l.ctx, &parsed); diags.HasErrors() {
		return NewConfigError(path, "", errors.Wrap(diags, "decode"))
	}
	for _, j := range parsed.Jobs {
		if err := reg.Register(j.definition()); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				ce.Source = path
			}
			return err
		}
	}
	log.WithFields(log.Fields{
		"path": path,
		"jobs": len(parsed.Jobs),
	}).Info("Loaded job file")
	return nil
}

// LoadDir registers the jobs of every *.hcl file in dir, in name order.
func (l *Loader) LoadDir(reg *Registry, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return NewConfigError(dir, "", err)
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return NewConfigError(dir, "", err)
		}
		log.WithFields(log.Fields{"dir": dir}).Warn("No job files found")
	}
	sort.Strings(files)
	for _, f := range files {
		if err := l.LoadFile(reg, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads path with the process environment.
func LoadFile(reg *Registry, path string) error {
	return NewLoader(os.Environ()).LoadFile(reg, path)
}

// LoadDir loads dir with the process environment.
func LoadDir(reg *Registry, dir string) error {
	return NewLoader(os.Environ()).LoadDir(reg, dir)
}
