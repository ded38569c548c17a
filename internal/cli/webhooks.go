package cli

import (
	"fmt"
	"strings"
)

// WebhooksList displays all webhook registrations.
func WebhooksList() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, loadAdminToken())
	hooks, err := client.ListWebhooks()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         Webhooks                         ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	if len(hooks) == 0 {
		fmt.Println(infoStyle.Render("No webhooks registered."))
		fmt.Println(infoStyle.Render("Register one with: tollgate webhooks add <url>"))
		fmt.Println()
		return nil
	}

	for _, hook := range hooks {
		state := successStyle.Render("active")
		if !hook.Active {
			state = errorStyle.Render("inactive")
		}
		signed := "unsigned"
		if hook.HasSecret {
			signed = "HMAC-signed"
		}
		fmt.Printf("  %s  %s\n", hook.ID, state)
		fmt.Printf("    URL:     %s\n", hook.URL)
		fmt.Printf("    Events:  %s\n", strings.Join(hook.Events, ", "))
		fmt.Printf("    Signing: %s\n", signed)
		fmt.Println()
	}
	fmt.Printf("%d webhook(s)\n", len(hooks))
	fmt.Println()

	return nil
}

// WebhooksAdd registers a new delivery endpoint.
func WebhooksAdd(hookURL, secret string, events []string) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, loadAdminToken())
	hook, err := client.CreateWebhook(hookURL, secret, events)
	if err != nil {
		return err
	}

	fmt.Printf("%s Webhook registered: %s\n", successStyle.Render("✓"), hook.ID)
	fmt.Printf("  URL:    %s\n", hook.URL)
	fmt.Printf("  Events: %s\n", strings.Join(hook.Events, ", "))
	if hook.HasSecret {
		fmt.Println(infoStyle.Render("  Deliveries carry an X-Webhook-Signature HMAC header"))
	} else {
		fmt.Println(warningStyle.Render("  No secret set; deliveries are unsigned"))
	}
	return nil
}

// WebhooksRemove deactivates a registration.
func WebhooksRemove(id string) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, loadAdminToken())
	if err := client.DeleteWebhook(id); err != nil {
		return err
	}

	fmt.Printf("%s Webhook deactivated: %s\n", successStyle.Render("✓"), id)
	return nil
}
