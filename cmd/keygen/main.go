package main

import (
	"fmt"
	"os"

	"github.com/sentinel/console/pkg/utils/sshkeygen"
	"github.com/spf13/cobra"
)

func main() {
	var privateKeyPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the Ed25519 key pair the console uses to reach managed hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if privateKeyPath == "" {
				priv, _, err := sshkeygen.DefaultKeyPaths()
				if err != nil {
					return err
				}
				privateKeyPath = priv
			}
			publicKeyPath := privateKeyPath + ".pub"

			fmt.Printf("Private key: %s\n", privateKeyPath)
			fmt.Printf("Public key: %s\n", publicKeyPath)

			created, err := sshkeygen.GenerateEd25519KeyPair(privateKeyPath, publicKeyPath)
			if err != nil {
				return fmt.Errorf("failed to generate key pair: %w", err)
			}
			if created {
				fmt.Println("✓ Key pair generated successfully")
			} else {
				fmt.Println("✓ Key pair already exists (skipped)")
			}
			fmt.Println("Append the public key to ~/.ssh/authorized_keys on every managed host.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&privateKeyPath, "out", "o", "", "private key path (default ~/.ssh/id_ed25519)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
