// Package cli implements the ensq command line: running an ensemble through
// the site's queue, listing installed jobs and querying a running queue.
package cli

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EJahren/ert/common/endpoints"
	"github.com/EJahren/ert/common/stats"
)

const (
	envPrefix = "ENSQ"
	statScope = endpoints.StatScope("ensq")
)

// CLI is the ensq command tree. Every flag can also be set through an
// ENSQ_<FLAG> environment variable, with dashes as underscores.
type CLI struct {
	rootCmd *cobra.Command
	v       *viper.Viper
	out     io.Writer
	// stat, if set, replaces the receiver chosen by statsFor.
	stat    stats.StatsReceiver
	environ []string
}

func NewCLI() *CLI {
	c := &CLI{
		v:       viper.New(),
		out:     os.Stdout,
		environ: os.Environ(),
	}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	c.rootCmd = &cobra.Command{
		Use:               "ensq",
		Short:             "ensq runs forward models for an ensemble of realizations",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setupLogging,
	}
	pf := c.rootCmd.PersistentFlags()
	pf.String("log-level", "info", "log level: trace, debug, info, warn or error")
	pf.Bool("log-json", false, "log as JSON")
	pf.String("config", "", "site configuration, a file name or literal JSON")
	c.v.BindPFlags(pf)

	c.addCmd(&runCmd{})
	c.addCmd(&jobsCmd{})
	c.addCmd(&statusCmd{})
	return c
}

// Exec runs the command line in args (os.Args[1:] if nil).
func (c *CLI) Exec(args []string) error {
	if args != nil {
		c.rootCmd.SetArgs(args)
	}
	return c.rootCmd.Execute()
}

func (c *CLI) setupLogging(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(c.v.GetString("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.v.GetBool("log-json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		// bound here since subcommands share flag names
		if err := c.v.BindPFlags(innerCmd.Flags()); err != nil {
			return err
		}
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

// statsFor returns the receiver for a run. Served runs get a latched,
// finagle-style receiver scoped under the binary's name.
func (c *CLI) statsFor(addr string) stats.StatsReceiver {
	switch {
	case c.stat != nil:
		return c.stat
	case addr != "":
		return endpoints.MakeStatsReceiver(statScope)
	default:
		return stats.DefaultStatsReceiver()
	}
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}
