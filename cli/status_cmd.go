package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultStatusTries = 5

type statusCmd struct{}

func (s *statusCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running ensq run",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("addr", "localhost:9091", "address the run serves status on")
	cmd.Flags().Int("tries", defaultStatusTries, "attempts before giving up")
	return cmd
}

func newStatusClient(tries int) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = tries
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("Retrying after failed attempt: %+v", e)
	}
	return client
}

func (s *statusCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	addr := c.v.GetString("addr")
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	resp, err := newStatusClient(c.v.GetInt("tries")).Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("getting status from %s: %v", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getting status from %s: %s", addr, resp.Status)
	}

	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return fmt.Errorf("decoding status: %v", err)
	}

	names := make([]string, 0, len(view.Queue.Counts))
	for n := range view.Queue.Counts {
		names = append(names, n)
	}
	sort.Strings(names)
	counts := make([]string, len(names))
	for i, n := range names {
		counts[i] = fmt.Sprintf("%s=%d", n, view.Queue.Counts[n])
	}
	fmt.Fprintf(c.out, "members %d/%d done, nodes: %s\n",
		view.Queue.MembersDone, view.Queue.Members, strings.Join(counts, " "))
	if view.Queue.Killed {
		fmt.Fprintln(c.out, "run was killed")
	}
	printMembers(c, view.Members)
	return nil
}
