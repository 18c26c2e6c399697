package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage stored accounts",
	}
	cmd.AddCommand(
		newAccountImportCmd(a),
		newAccountListCmd(a),
		newAccountPasswdCmd(a),
		newAccountDeleteCmd(a),
	)
	return cmd
}

func newAccountImportCmd(a *app) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <name> <appstate-file|->",
		Short: "Seal an exported app-state into the account store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readAll(args[1])
			if err != nil {
				return err
			}
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			acc, err := store.Import(cmd.Context(), args[0], raw, []byte(a.cfg.Passphrase), overwrite)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %s (user %s)\n", acc.Name, acc.UserID)
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing account of the same name")
	return cmd
}

func newAccountListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			accounts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tUSER\tSEQ\tUPDATED")
			for _, acc := range accounts {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", acc.Name, acc.UserID, acc.LastSeqID, acc.Updated.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newAccountPasswdCmd(a *app) *cobra.Command {
	var newPass string
	cmd := &cobra.Command{
		Use:   "passwd <name>",
		Short: "Change the passphrase of a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return store.ChangePassphrase(cmd.Context(), args[0], []byte(a.cfg.Passphrase), []byte(newPass))
		},
	}
	cmd.Flags().StringVar(&newPass, "new-passphrase", "", "the new passphrase")
	return cmd
}

func newAccountDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return store.Delete(cmd.Context(), args[0])
		},
	}
}
