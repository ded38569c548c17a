package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"tollgate/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Tollgate - x402 payment facilitator operations CLI",
		Long: `Tollgate is the operator CLI for a running payment facilitator:
check health, inspect settlement activity, and manage webhooks,
tokens, and signing keys.

Quick Start:
  tollgate config init   # Write the default CLI config
  tollgate health        # Check facilitator and RPC health
  tollgate recent        # Show recent settlement attempts
  tollgate watch         # Live settlement dashboard

The facilitator endpoint comes from ~/.tollgate/config.yaml or the
TOLLGATE_API environment variable. Admin-guarded commands send the
token stored via 'tollgate secure set-token' (or TOLLGATE_ADMIN_TOKEN).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	// Health command
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check facilitator API and network RPC health",
		Long: `Display health for:
  1. Facilitator API (/health)
  2. Base RPC
  3. Base Sepolia RPC

RPC statuses are reported as: up, down, or congested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Health()
		},
	}

	// Recent command
	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recent settlement attempts",
		Long:  `Display the latest audit log entries with payer and receiver addresses redacted by the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return cli.Recent(limit)
		},
	}
	recentCmd.Flags().IntP("limit", "n", 0, "Number of settlements to show (default from config)")

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show settlement statistics",
		Long:  `Display aggregate settlement counts, gross volume, and collected fees from the audit log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stats()
		},
	}

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live settlement dashboard",
		Long: `Open a terminal dashboard that polls the facilitator for recent
settlements and statistics. Press q to quit, r to refresh immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Watch()
		},
	}

	// Webhooks command
	webhooksCmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage settlement webhook registrations",
		Long: `Register, list, and deactivate webhook endpoints. The facilitator
delivers settlement.success and settlement.failed events to active
registrations, HMAC-signed when a secret is set.`,
	}

	webhooksListCmd := &cobra.Command{
		Use:   "list",
		Short: "List webhook registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WebhooksList()
		},
	}

	webhooksAddCmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a webhook endpoint",
		Long: `Register a URL to receive settlement event deliveries.

Examples:
  tollgate webhooks add https://hooks.example.com/pay
  tollgate webhooks add https://hooks.example.com/pay --secret s3cret
  tollgate webhooks add https://hooks.example.com/pay --event settlement.failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			events, _ := cmd.Flags().GetStringSlice("event")
			return cli.WebhooksAdd(args[0], secret, events)
		},
	}
	webhooksAddCmd.Flags().String("secret", "", "HMAC secret for signing deliveries")
	webhooksAddCmd.Flags().StringSlice("event", nil, "Events to deliver (default: all settlement events)")

	webhooksRemoveCmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Deactivate a webhook registration",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WebhooksRemove(args[0])
		},
	}

	webhooksCmd.AddCommand(webhooksListCmd, webhooksAddCmd, webhooksRemoveCmd)

	// Tokens command
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect the token whitelist",
	}

	tokensListCmd := &cobra.Command{
		Use:   "list",
		Short: "List whitelisted tokens with effective fee rates",
		Long: `Display the token whitelist. The endpoint is admin-guarded, so a
token from 'tollgate secure set-token' (or TOLLGATE_ADMIN_TOKEN) is
required when the facilitator has admin auth configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, _ := cmd.Flags().GetInt64("chain-id")
			return cli.TokensList(chainID)
		},
	}
	tokensListCmd.Flags().Int64("chain-id", 0, "Restrict to one chain (default: all)")

	tokensCmd.AddCommand(tokensListCmd)

	// Keygen command
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key",
		Long: `Generate a fresh secp256k1 key for a facilitator or test payer.

With --store the key goes straight into the OS keyring and is never
printed. Without it the key is printed once; handle it carefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := cmd.Flags().GetBool("store")
			label, _ := cmd.Flags().GetString("label")
			return cli.Keygen(store, label)
		},
	}
	keygenCmd.Flags().Bool("store", false, "Store the key in the OS keyring instead of printing it")
	keygenCmd.Flags().String("label", cli.DefaultKeyLabel, "Keyring label for --store")

	// Secure command
	secureCmd := &cobra.Command{
		Use:   "secure",
		Short: "Manage secrets in the OS keyring",
		Long: `Store the facilitator signing key and the admin API token in the
OS keyring so they never sit in shell history or env files.`,
	}

	secureSetKeyCmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store a signing key in the OS keyring",
		Long: `Validate and store a private key.

Reads the key from (in order of precedence):
  1. stdin (if piped)
  2. TOLLGATE_PRIVATE_KEY environment variable
  3. --file flag
  4. Hidden interactive prompt (if terminal)

Example:
  tollgate secure set-key
  echo $KEY | tollgate secure set-key
  tollgate secure set-key --file /path/to/key.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			label, _ := cmd.Flags().GetString("label")
			file, _ := cmd.Flags().GetString("file")
			return cli.SecureSetKey(label, file)
		},
	}
	secureSetKeyCmd.Flags().String("label", cli.DefaultKeyLabel, "Keyring label for the key")
	secureSetKeyCmd.Flags().StringP("file", "f", "", "Read the private key from file")

	secureSetTokenCmd := &cobra.Command{
		Use:   "set-token",
		Short: "Store the admin API token in the OS keyring",
		Long: `Store the bearer token that admin-guarded commands send.

Reads the token from stdin (if piped), TOLLGATE_ADMIN_TOKEN, or a
hidden interactive prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.SecureSetToken()
		},
	}

	secureShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show what the keyring holds",
		Long:  `Report which secrets are stored and the address of the stored key. Secret values are never printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.SecureShow()
		},
	}

	secureEncryptKeyCmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt a signing key with AWS KMS",
		Long: `Encrypt a private key under an AWS KMS key and print the base64
ciphertext for FACILITATOR_PRIVATE_KEY_CIPHERTEXT. The facilitator
decrypts it at boot, so the plaintext key never sits in its
environment.

Reads the key from stdin (if piped), TOLLGATE_PRIVATE_KEY, --file,
or a hidden interactive prompt. AWS credentials come from the
default chain (environment, shared config, instance role).

Example:
  tollgate secure encrypt-key --region us-east-1 --kms-key alias/tollgate-facilitator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			region, _ := cmd.Flags().GetString("region")
			keyID, _ := cmd.Flags().GetString("kms-key")
			file, _ := cmd.Flags().GetString("file")
			return cli.SecureEncryptKey(region, keyID, file)
		},
	}
	secureEncryptKeyCmd.Flags().String("region", "", "AWS region of the KMS key")
	secureEncryptKeyCmd.Flags().String("kms-key", "", "KMS key ARN or alias")
	secureEncryptKeyCmd.Flags().StringP("file", "f", "", "Read the private key from file")
	secureEncryptKeyCmd.MarkFlagRequired("region")  //nolint:errcheck
	secureEncryptKeyCmd.MarkFlagRequired("kms-key") //nolint:errcheck

	secureCmd.AddCommand(secureSetKeyCmd, secureSetTokenCmd, secureShowCmd, secureEncryptKeyCmd)

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long: `View and initialize the CLI configuration at ~/.tollgate/config.yaml.

Keys:
  api.endpoint            - Facilitator base URL
  api.timeout             - Request timeout
  rpc.base                - Base RPC probed by 'tollgate health'
  rpc.base_sepolia        - Base Sepolia RPC probed by 'tollgate health'
  defaults.recent_limit   - Default row count for 'tollgate recent'
  defaults.watch_interval - Poll interval for 'tollgate watch'`,
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return cli.ConfigInit(force)
		},
	}
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ConfigShow()
		},
	}

	configCmd.AddCommand(configInitCmd, configShowCmd)

	// Add all commands
	rootCmd.AddCommand(
		healthCmd,
		recentCmd,
		statsCmd,
		watchCmd,
		webhooksCmd,
		tokensCmd,
		keygenCmd,
		secureCmd,
		configCmd,
	)

	return rootCmd
}

func main() {
	rootCmd := newRootCmd()
	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
