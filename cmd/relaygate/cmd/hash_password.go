package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/domain/auth"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Generate an Argon2id hash for ADMIN_PASSWORD",
	Long: `Generates an Argon2id hash of the given password. Export the hash as
ADMIN_PASSWORD instead of the cleartext so the secret never appears in
process environments in recoverable form.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
