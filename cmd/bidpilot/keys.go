package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/config"
	"github.com/jonathan/bidpilot/internal/secrets"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate a secrets key and a VAPID key pair",
	Long: `Print a fresh secrets key and VAPID private key as environment
assignments. Changing the secrets key makes stored phone numbers and chat
credentials unreadable.`,
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, _ []string) error {
	secretsKey, err := secrets.GenerateKey()
	if err != nil {
		return err
	}
	vapidPEM, err := channels.GenerateVAPIDKey()
	if err != nil {
		return err
	}
	webPush, err := channels.NewWebPush(vapidPEM, "mailto:unused@example.com")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s_SECRETS_KEY=%s\n", config.EnvPrefix, secretsKey)
	fmt.Fprintf(out, "%s_VAPID_PRIVATE_KEY_PEM=%q\n", config.EnvPrefix, vapidPEM)
	fmt.Fprintf(out, "# VAPID public key (served at /push/vapid-public-key): %s\n", webPush.PublicKey())
	return nil
}
