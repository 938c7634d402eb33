package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete batches older than --days (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.Cleanup(days)
		if err != nil {
			return err
		}
		cmd.Printf("✓ Deleted %d batches older than %d days\n", res.Deleted, days)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys (admin)",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key; the secret is printed once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		scopes, _ := cmd.Flags().GetStringSlice("scope")

		client, err := newClient()
		if err != nil {
			return err
		}
		key, err := client.CreateKey(name, scopes)
		if err != nil {
			return err
		}
		cmd.Printf("✓ Key created!\nID:     %s\nName:   %s\nScopes: %s\nKey:    %s\n",
			key.ID, key.Name, strings.Join(key.Scopes, ","), key.Key)
		cmd.Printf("%sStore the key now; it cannot be shown again.%s\n", colorYellow, colorReset)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		keys, err := client.ListKeys()
		if err != nil {
			return err
		}
		printKeys(cmd, keys)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke [key_id]",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RevokeKey(args[0]); err != nil {
			return err
		}
		cmd.Printf("✓ Key %s revoked\n", args[0])
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntP("days", "d", 30, "retention in days")

	keysCreateCmd.Flags().StringP("name", "n", "", "key name; batches created with it are owned by this name (required)")
	keysCreateCmd.Flags().StringSlice("scope", nil, "scopes to grant, e.g. admin")
	_ = keysCreateCmd.MarkFlagRequired("name")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
	rootCmd.AddCommand(cleanupCmd, keysCmd)
}
