package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/torosent/lopnur/internal/config"
	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/output"
	"github.com/torosent/lopnur/internal/storage"
)

func newSessionsCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored benchmark sessions",
	}
	cmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "Directory where session results are stored")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSessions(sessionStore(cmd), stdout)
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the report of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json-output")
			if err != nil {
				return err
			}
			return showSession(sessionStore(cmd), args[0], asJSON, stdout)
		},
	}
	show.Flags().Bool("json-output", false, "Emit JSON formatted output")

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sessionStore(cmd).Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(stderr, "Deleted session %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

func sessionStore(cmd *cobra.Command) *storage.FileStore {
	dir, err := cmd.Flags().GetString("data-dir")
	if err != nil || dir == "" {
		dir = config.DefaultDataDir
	}
	return storage.NewFileStore(dir)
}

func listSessions(store *storage.FileStore, w io.Writer) error {
	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Started", "Providers", "Requests", "Best"})
	table.SetAutoFormatHeaders(false)
	for _, id := range ids {
		s, err := store.Load(id)
		if err != nil {
			table.Append([]string{id, "-", "-", "-", "unreadable"})
			continue
		}
		best := "-"
		if b, ok := metrics.FindBest(metrics.Summarize(s)); ok {
			best = b.Provider
		}
		table.Append([]string{
			s.ID,
			time.UnixMilli(s.StartTime).Format(time.RFC3339),
			strings.Join(s.Providers, ", "),
			strconv.Itoa(len(s.Results)),
			best,
		})
	}
	table.Render()
	return nil
}

func showSession(store *storage.FileStore, id string, asJSON bool, w io.Writer) error {
	s, err := store.Load(id)
	if err != nil {
		return err
	}
	report := output.NewReport(s, nil)
	if asJSON {
		return output.PrintJSONReport(w, report)
	}
	output.PrintReport(w, report)
	return nil
}
