package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alucardeht/mfhost/internal/daemon"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's modules and pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		instance := daemon.NewInstance(cfg.Daemon.PIDFile, cfg.Daemon.SocketPath)
		pid, running := instance.Running()
		if !running {
			return fmt.Errorf("daemon is not running")
		}
		if cfg.Daemon.HTTPAddr == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "daemon running (pid %d), http endpoint disabled\n", pid)
			return nil
		}

		health, err := daemon.NewClient(cfg.Daemon.HTTPAddr).Health(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(out, health)
		}

		fmt.Fprintf(out, "daemon running (pid %d), up %s, journal %d written / %d dropped\n\n",
			pid, health.Uptime, health.Journal.Written, health.Journal.Dropped)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tURL\tMODULE\tPHASE\tINVOKES\tCIRCUIT")
		for _, s := range health.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.ID[:8], s.URL, s.Module, s.Phase, s.Bridge.RequestCount, s.Bridge.Circuit)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw health document")
}
