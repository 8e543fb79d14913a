package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/credits/identity"
)

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityResetCmd)
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect the local installation identity",
}

// ─── identity show ──────────────────────────────────────────────────────────

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the installation id, free-credit latch and local balance",
	Args:  cobra.NoArgs,
	RunE:  runIdentityShow,
}

func runIdentityShow(cmd *cobra.Command, _ []string) error {
	ids, err := openIdentity()
	if err != nil {
		return err
	}
	snap, err := ids.Snapshot()
	if err != nil {
		return fmt.Errorf("read identity: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ─── identity reset ─────────────────────────────────────────────────────────

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the persisted identity",
	Long: `Remove the persisted installation identity. The next command that
reads it creates a fresh installation.`,
	Args: cobra.NoArgs,
	RunE: runIdentityReset,
}

func runIdentityReset(cmd *cobra.Command, _ []string) error {
	ids, err := openIdentity()
	if err != nil {
		return err
	}
	if err := ids.Reset(); err != nil {
		return fmt.Errorf("reset identity: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "identity reset")
	return nil
}

func openIdentity() (*identity.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return identity.NewStore(identity.NewFileBackend(cfg.IdentityPath)), nil
}
