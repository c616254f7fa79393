package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/clawmarket/internal/crypto"
)

func newEncryptKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt the oracle private key for chain.encrypted_key_path",
		Long:  "Reads the hex private key from CLAW_CHAIN_ORACLE_KEY and the password from CLAW_CHAIN_KEY_PASSWORD, and writes the encrypted key file.",
		Args:  cobra.NoArgs,
		RunE:  runEncryptKey,
	}
	cmd.Flags().String("out", "oracle.key.json", "output file")
	return cmd
}

func runEncryptKey(cmd *cobra.Command, _ []string) error {
	out, _ := cmd.Flags().GetString("out")

	key := os.Getenv("CLAW_CHAIN_ORACLE_KEY")
	password := os.Getenv("CLAW_CHAIN_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("CLAW_CHAIN_ORACLE_KEY and CLAW_CHAIN_KEY_PASSWORD must both be set")
	}

	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	// Round-trip before reporting success.
	if _, err := crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: out, KeyPassword: password}); err != nil {
		return fmt.Errorf("verify %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}
