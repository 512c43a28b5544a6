package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"outreach/internal/repo"
)

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for automation clients",
		Long:  "API keys authenticate with the X-Api-Key header when the server runs with a JWT secret. Only a hash is stored; the key is shown once at creation.",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := repo.Open(cmd.Context(), workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			key, plain, err := store.CreateAPIKey(cmd.Context(), name)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"key": key, "secret": plain})
			}
			fmt.Printf("created %s (%s)\n%s\n", key.ID, key.Name, plain)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := repo.Open(cmd.Context(), workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			keys, err := store.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(keys)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Created", "Last used"})
			for _, k := range keys {
				last := ""
				if k.LastUsedAt != nil {
					last = *k.LastUsedAt
				}
				tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt, last})
			}
			tw.Render()
			return nil
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := repo.Open(cmd.Context(), workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeleteAPIKey(cmd.Context(), args[0])
		},
	}
}
