package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/webpilot/internal/config"
	"github.com/nextlevelbuilder/webpilot/internal/store"
)

func historyCmd() *cobra.Command {
	var (
		opts    store.ListOptions
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(ctx context.Context, hist store.RunStore) error {
				recs, err := hist.List(ctx, opts)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), recs, jsonOut)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (done, max_turns, failed, stopped)")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "filter by batch id")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "max rows")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON")

	cmd.AddCommand(historySearchCmd(&jsonOut))
	cmd.AddCommand(historyShowCmd(&jsonOut))
	cmd.AddCommand(historyStatsCmd(&jsonOut))
	return cmd
}

func historySearchCmd(jsonOut *bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over missions and answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(ctx context.Context, hist store.RunStore) error {
				recs, err := hist.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), recs, *jsonOut)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max rows")
	return cmd
}

func historyShowCmd(jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(ctx context.Context, hist store.RunStore) error {
				rec, err := hist.Get(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no run %q in history", args[0])
				}
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if *jsonOut {
					return writeJSON(w, rec)
				}
				printRecord(w, rec)
				return nil
			})
		},
	}
}

func historyStatsCmd(jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count runs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(ctx context.Context, hist store.RunStore) error {
				counts, err := hist.CountByStatus(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if *jsonOut {
					return writeJSON(w, counts)
				}
				statuses := make([]string, 0, len(counts))
				for s := range counts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STATUS\tRUNS")
				for _, s := range statuses {
					fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
				}
				return tw.Flush()
			})
		},
	}
}

// withHistory opens the configured history store for one command.
func withHistory(fn func(context.Context, store.RunStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Disabled || cfg.Store.Path == "" {
		return errors.New("run history is disabled (store.disabled or empty store.path)")
	}
	hist, err := store.NewSQLiteRunStore(config.ExpandHome(cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer hist.Close()
	return fn(context.Background(), hist)
}

func printRecords(w io.Writer, recs []store.RunRecord, jsonOut bool) error {
	if jsonOut {
		if recs == nil {
			recs = []store.RunRecord{}
		}
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFINISHED\tSESSION\tSTATUS\tTURNS\tMISSION")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.FinishedAt.Local().Format(time.DateTime), r.Label, r.Status, r.Turns, oneLine(r.Mission, 60))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, r *store.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", r.RunID)
	if r.Batch != "" {
		fmt.Fprintf(tw, "Batch:\t%s #%d\n", r.Batch, r.Index+1)
	}
	fmt.Fprintf(tw, "Session:\t%s\n", r.Label)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Turns:\t%d (%d tool calls)\n", r.Turns, r.ToolCalls)
	fmt.Fprintf(tw, "Tokens:\t%d in, %d out\n", r.PromptTokens, r.CompletionTokens)
	fmt.Fprintf(tw, "Started:\t%s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Took:\t%s\n", r.Duration().Round(time.Millisecond))
	tw.Flush()
	fmt.Fprintf(w, "\nMission:\n%s\n", r.Mission)
	if r.Error != "" {
		fmt.Fprintf(w, "\nError:\n%s\n", r.Error)
	}
	if r.Content != "" {
		fmt.Fprintf(w, "\nAnswer:\n%s\n", r.Content)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
