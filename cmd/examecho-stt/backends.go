package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/examecho/examecho-stt/internal/jobstore"
	"github.com/examecho/examecho-stt/internal/pipeline"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/spf13/cobra"
)

func newBackendsCmd(global *globalOptions) *cobra.Command {
	var warm []string
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the configured speech recognition backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			p, err := pipeline.Build(cfg, logger)
			if err != nil {
				return err
			}
			defer p.Registry.Close()

			if len(warm) > 0 {
				kinds := make([]stt.Kind, 0, len(warm))
				for _, name := range warm {
					kind, err := stt.ParseKind(name)
					if err != nil {
						return err
					}
					kinds = append(kinds, kind)
				}
				if err := p.Registry.Warm(cmd.Context(), kinds...); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tDEFAULT\tLOADED\tDEVICE")
			for _, info := range p.Registry.Snapshot() {
				def := ""
				if info.Kind == p.Orchestrator.DefaultKind() {
					def = "*"
				}
				device := string(info.Device)
				if device == "" {
					device = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", info.Kind, def, info.Loaded, device)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&warm, "warm", nil, "load these backends before listing")
	return cmd
}

func newJobsCmd(global *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent transcription jobs from the job store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			store, err := jobstore.Open(cmd.Context(), cfg.JobStore, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSOURCE\tBACKEND\tSTATUS\tAUDIO\tINPUT")
			for _, job := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1fs\t%s\n", job.ID, job.Source, job.Backend, job.Status, job.AudioSec, job.InputName)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}
