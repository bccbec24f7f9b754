package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/EJahren/ert/common/errors"
	"github.com/EJahren/ert/config/siteconfig"
)

type jobsCmd struct{}

func (j *jobsCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the jobs the site configuration installs",
		Args:  cobra.NoArgs,
	}
}

func (j *jobsCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	site, err := siteconfig.Load(c.v.GetString("config"), c.statsFor(""), siteconfig.WithEnviron(c.environ))
	if err != nil {
		return errors.NewError(err, errors.ConfigErrorExitCode)
	}
	defer site.Close()

	reg := site.InstalledJobs()
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEXECUTABLE\tARGS\tMAX_RUNNING")
	for _, name := range reg.Names() {
		def, _ := reg.Lookup(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", def.Name, def.Executable, strings.Join(def.Args, " "), def.MaxRunning)
	}
	return w.Flush()
}
