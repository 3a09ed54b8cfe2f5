package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alucardeht/mfhost/internal/assets"
	"github.com/alucardeht/mfhost/internal/daemon"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/manifest"
	"github.com/alucardeht/mfhost/internal/registry"
	"github.com/alucardeht/mfhost/internal/router"
	"github.com/alucardeht/mfhost/internal/store"
)

var listJSON bool

// loadCatalog registers the manifests into a fresh registry, applying the
// flags stored by enable and disable.
func loadCatalog(ctx context.Context) (*registry.Registry, manifest.SyncResult, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, manifest.SyncResult{}, err
	}
	defer st.Close()

	reg := registry.NewRegistry()
	catalog := manifest.NewCatalog(cfg.Manifest, &manifest.Factory{Assets: assets.Scoped{}}, reg, nil, st)
	result, err := catalog.Sync(ctx)
	return reg, result, err
}

type moduleRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Technology string `json:"technology"`
	Kind       string `json:"kind"`
	Enabled    bool   `json:"enabled"`
	Routes     int    `json:"routes"`
}

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"list"},
	Short:   "List the fragments declared by the manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, result, err := loadCatalog(cmd.Context())
		if err != nil && reg == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}

		rows := make([]moduleRow, 0, reg.Len()+len(result.Disabled))
		for _, m := range reg.List() {
			kind := manifest.KindNative
			if _, ok := m.(*fragment.JS); ok {
				kind = manifest.KindJS
			}
			rows = append(rows, moduleRow{
				ID:         m.ID(),
				Name:       m.Name(),
				Version:    m.Version(),
				Technology: m.Technology(),
				Kind:       string(kind),
				Enabled:    true,
				Routes:     len(m.Routes()),
			})
		}
		for _, id := range result.Disabled {
			rows = append(rows, moduleRow{ID: id})
		}

		if listJSON {
			return writeJSON(cmd.OutOrStdout(), rows)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tTECHNOLOGY\tKIND\tROUTES\tENABLED")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
				r.ID, r.Name, r.Version, r.Technology, r.Kind, r.Routes, r.Enabled)
		}
		return w.Flush()
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the flattened route table in matching order",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, _, err := loadCatalog(cmd.Context())
		if err != nil && reg == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}

		table := router.BuildTable(reg.List())
		if listJSON {
			return writeJSON(cmd.OutOrStdout(), table)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "PATH (%s)\tTITLE\tMODULE\n", cfg.Router.Mode)
		for _, e := range table {
			fmt.Fprintf(w, "%s%s\t%s\t%s\n", cfg.Router.BaseURL, e.Path, e.Title, e.ModuleID)
		}
		return w.Flush()
	},
}

var resetFlag bool

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a fragment regardless of its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a fragment regardless of its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	ctx := cmd.Context()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	if resetFlag {
		err = st.ClearEnabled(ctx, id)
	} else {
		err = st.SetEnabled(ctx, id, enabled)
	}
	if closeErr := st.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case resetFlag:
		fmt.Fprintf(out, "%s follows its manifest again\n", id)
	case enabled:
		fmt.Fprintf(out, "%s enabled\n", id)
	default:
		fmt.Fprintf(out, "%s disabled\n", id)
	}

	instance := daemon.NewInstance(cfg.Daemon.PIDFile, cfg.Daemon.SocketPath)
	if _, running := instance.Running(); !running || cfg.Daemon.HTTPAddr == "" {
		return nil
	}

	resp, err := daemon.NewClient(cfg.Daemon.HTTPAddr).Sync(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: daemon not notified: %v\n", err)
		return nil
	}
	if resp.Error != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Error)
	}
	fmt.Fprintf(out, "daemon synced: %d added, %d removed\n", len(resp.Result.Added), len(resp.Result.Removed))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	modulesCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	routesCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	enableCmd.Flags().BoolVar(&resetFlag, "reset", false, "drop the override and follow the manifest")
	disableCmd.Flags().BoolVar(&resetFlag, "reset", false, "drop the override and follow the manifest")
}
