package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/EJahren/ert/common/endpoints"
	exitcodes "github.com/EJahren/ert/common/errors"
	"github.com/EJahren/ert/config/siteconfig"
	"github.com/EJahren/ert/driver/drivers"
	"github.com/EJahren/ert/extjob"
	"github.com/EJahren/ert/queue"
)

const shutdownTimeout = 30 * time.Second

// Script every step follows under --dry-run.
var dryRunScript = []string{"sleep 100", "complete 0"}

type runCmd struct{}

func (r *runCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run JOB [JOB...]",
		Short: "Run the workflow of the named jobs for every member",
		Long: "Run the workflow of the named jobs, in order, for every member.\n" +
			"The run path may contain <IENS>, replaced by the member index.",
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().String("members", "0", "member indices, e.g. 0-9,12")
	cmd.Flags().String("runpath", "realization-<IENS>", "run path of each member")
	cmd.Flags().StringSlice("define", nil, "substitution KEY=VALUE applied to job arguments, repeatable")
	cmd.Flags().String("resource-request", "", "batch resource request, replacing the configured one")
	cmd.Flags().String("addr", "", "serve health, metrics and status on this address")
	cmd.Flags().Bool("dry-run", false, "simulate every step instead of using the configured driver")
	return cmd
}

func (r *runCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	members, err := parseMembers(c.v.GetString("members"))
	if err != nil {
		return exitcodes.NewError(err, exitcodes.ConfigErrorExitCode)
	}
	subst, err := parseDefines(c.v.GetStringSlice("define"))
	if err != nil {
		return exitcodes.NewError(err, exitcodes.ConfigErrorExitCode)
	}

	opts := []siteconfig.Option{siteconfig.WithEnviron(c.environ)}
	if c.v.GetBool("dry-run") {
		opts = append(opts, siteconfig.WithDriver(drivers.NewSimDriver(dryRunScript...)))
	}
	addr := c.v.GetString("addr")
	stat := c.statsFor(addr)
	site, err := siteconfig.Load(c.v.GetString("config"), stat, opts...)
	if err != nil {
		return exitcodes.NewError(err, exitcodes.ConfigErrorExitCode)
	}
	defer site.Close()
	if req := c.v.GetString("resource-request"); req != "" {
		if err := site.UpdateResourceRequest(req); err != nil {
			return exitcodes.NewError(err, exitcodes.ConfigErrorExitCode)
		}
	}

	wf, err := extjob.NewWorkflow(site.InstalledJobs(), args...)
	if err != nil {
		return exitcodes.NewError(err, exitcodes.ConfigErrorExitCode)
	}

	q := site.JobQueue()
	runPath := c.v.GetString("runpath")
	for _, m := range members {
		path := extjob.Substitutions{"IENS": strconv.Itoa(m)}.Apply(runPath)
		if err := os.MkdirAll(path, 0755); err != nil {
			return errors.Wrapf(err, "creating run path of member %d", m)
		}
		if err := q.AddMember(m, path, wf, subst); err != nil {
			return errors.Wrapf(err, "adding member %d", m)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr != "" {
		srv := endpoints.NewServer(addr, stat, func() interface{} {
			return statusView{Queue: q.Snapshot(), Members: q.Members()}
		})
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.WithError(err).Error("Status server stopped")
			}
		}()
	}

	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithFields(log.Fields{"signal": sig}).Warn("Interrupted, killing all jobs")
			close(interrupted)
			q.KillAll()
		case <-ctx.Done():
		}
	}()

	if err := q.Start(ctx); err != nil {
		return err
	}
	res, err := q.Wait(ctx)
	if err != nil {
		return err
	}
	// the stopped queue no longer answers queries
	final := q.Members()
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
	defer cancelShutdown()
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Driver calls still outstanding at exit")
	}
	printMembers(c, final)

	select {
	case <-interrupted:
		return exitcodes.NewError(errors.New("interrupted"), exitcodes.InterruptedExitCode)
	default:
	}
	if err := res.Err(); err != nil {
		return exitcodes.NewError(err, exitcodes.PartialFailureExitCode)
	}
	return nil
}

// statusView is what /status serves and `ensq status` reads.
type statusView struct {
	Queue   queue.Snapshot
	Members []queue.MemberStatus
}

func printMembers(c *CLI, ms []queue.MemberStatus) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tSTATUS\tSTEP\tATTEMPTS\tRUNPATH")
	for _, m := range ms {
		step := strconv.Itoa(m.Step)
		if m.FailedStep >= 0 {
			step = strconv.Itoa(m.FailedStep)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", m.Member, m.Status, step, m.Attempts, m.RunPath)
	}
	w.Flush()
}

// parseMembers reads a comma separated list of indices and inclusive ranges.
func parseMembers(s string) ([]int, error) {
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad member %q", part)
		}
		to, err := strconv.Atoi(hi)
		if err != nil || to < from || from < 0 {
			return nil, fmt.Errorf("bad member range %q", part)
		}
		for m := from; m <= to; m++ {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no members in %q", s)
	}
	return out, nil
}

func parseDefines(defs []string) (extjob.Substitutions, error) {
	subst := extjob.Substitutions{}
	for _, d := range defs {
		i := strings.IndexByte(d, '=')
		if i <= 0 {
			return nil, fmt.Errorf("bad define %q, want KEY=VALUE", d)
		}
		subst[strings.Trim(d[:i], "<>")] = d[i+1:]
	}
	return subst, nil
}
