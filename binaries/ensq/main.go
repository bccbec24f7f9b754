package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/cli"
	"github.com/EJahren/ert/common/errors"
	"github.com/EJahren/ert/common/log/hooks"
)

// CLI binary to run an ensemble's forward models through a job queue.
//	Supported commands: (see "-h" for all options)
//		run JOB [JOB...]
//		jobs
//		status
//	Global flags:
//		--config [site configuration file or JSON]
//		--log-level [<error|info|debug> level and above should be logged]
//		--log-json
//	Every flag may also be given as ENSQ_<FLAG>, e.g. ENSQ_CONFIG.
func main() {
	log.AddHook(hooks.NewContextHook())

	if err := cli.NewCLI().Exec(nil); err != nil {
		fmt.Fprintln(os.Stderr, "ensq:", err)
		os.Exit(int(errors.ExitCodeOf(err)))
	}
}
