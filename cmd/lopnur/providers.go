package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/torosent/lopnur/internal/config"
	"github.com/torosent/lopnur/internal/provider"
)

func newProvidersCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage the providers file",
	}
	cmd.PersistentFlags().String("providers", config.DefaultProvidersFile, "Path to the providers file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logrus.New()
			log.SetOutput(stderr)
			return listProviders(providersPath(cmd), log, stdout)
		},
	}

	add := &cobra.Command{
		Use:   "add <name> <endpoint>",
		Short: "Add or replace a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := entryFromFlags(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			path := providersPath(cmd)
			if err := provider.SaveToFile(path, entry); err != nil {
				return err
			}
			fmt.Fprintf(stderr, "Saved provider %s to %s\n", entry.Name, path)
			return nil
		},
	}
	add.Flags().String("env-prefix", "", "Environment variable prefix (default derived from the name)")
	add.Flags().String("ws-endpoint", "", "Websocket endpoint used by slotSubscribe")
	add.Flags().String("grpc-endpoint", "", "gRPC endpoint used by grpcHealth")
	add.Flags().Bool("requires-api-key", false, "Mark the endpoint as requiring an API key")

	remove := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a provider",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := providersPath(cmd)
			if err := provider.RemoveFromFile(path, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(stderr, "Removed provider %s from %s\n", args[0], path)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func providersPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("providers")
	if err != nil || path == "" {
		return config.DefaultProvidersFile
	}
	return path
}

func entryFromFlags(cmd *cobra.Command, name, endpoint string) (provider.Entry, error) {
	flags := cmd.Flags()
	entry := provider.Entry{Name: name, Endpoint: endpoint}
	var err error
	if entry.EnvKeyPrefix, err = flags.GetString("env-prefix"); err != nil {
		return entry, err
	}
	if entry.WSEndpoint, err = flags.GetString("ws-endpoint"); err != nil {
		return entry, err
	}
	if entry.GRPCEndpoint, err = flags.GetString("grpc-endpoint"); err != nil {
		return entry, err
	}
	if entry.RequiresAPIKey, err = flags.GetBool("requires-api-key"); err != nil {
		return entry, err
	}
	return entry, nil
}

func listProviders(path string, log logrus.FieldLogger, w io.Writer) error {
	registry := provider.LoadFile(path, log)
	if registry.Len() == 0 {
		fmt.Fprintln(w, "No providers configured.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Endpoint", "Websocket", "gRPC", "Valid"})
	table.SetAutoFormatHeaders(false)
	for _, p := range registry.All() {
		valid := provider.ValidateEndpoint(p.Endpoint) == nil
		table.Append([]string{p.Name, p.Endpoint, p.WSEndpoint, p.GRPCEndpoint, strconv.FormatBool(valid)})
	}
	table.Render()
	return nil
}
