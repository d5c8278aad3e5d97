package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/db"
)

var tokenPermission string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage REST API tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a token and print it once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, err := db.ParsePermission(tokenPermission)
		if err != nil {
			return err
		}
		a, err := newApp(setupOptions{requireStore: true})
		if err != nil {
			return err
		}
		defer a.close()

		plaintext, tok, err := a.store.CreateToken(args[0], perm)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created %s token %q (id %s).\n", tok.Permission, tok.Name, tok.ID)
		fmt.Fprintln(out, "Store it now, it is not shown again:")
		fmt.Fprintln(out, plaintext)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(setupOptions{requireStore: true})
		if err != nil {
			return err
		}
		defer a.close()

		tokens, err := a.store.ListTokens()
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tokens.")
			return nil
		}

		tw := tablewriter.NewWriter(cmd.OutOrStdout())
		tw.SetHeader([]string{"ID", "Name", "Permission", "Created", "Last Used"})
		tw.SetBorder(true)
		tw.SetAutoWrapText(false)
		for _, t := range tokens {
			lastUsed := "never"
			if !t.LastUsed.IsZero() {
				lastUsed = t.LastUsed.Local().Format("2006-01-02 15:04")
			}
			tw.Append([]string{
				t.ID,
				t.Name,
				string(t.Permission),
				t.CreatedAt.Local().Format("2006-01-02 15:04"),
				lastUsed,
			})
		}
		tw.Render()
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <name|id>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(setupOptions{requireStore: true})
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.RevokeToken(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s.\n", args[0])
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenPermission, "permission", string(db.PermMonitor), "monitor, control or configure")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}
