package cli

import (
	"fmt"

	"tollgate/internal/wallet"
)

// Keygen generates a fresh signing key for a facilitator or test payer.
// With store set the key goes straight into the OS keyring and is never
// printed.
func Keygen(store bool, label string) error {
	signer, err := wallet.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	defer signer.Zero()

	fmt.Println(titleStyle.Render("New signing key"))
	fmt.Println("Address:")
	fmt.Println(headerStyle.Render("  " + signer.AddressString()))
	fmt.Println()

	if store {
		keystore, err := wallet.OpenKeystore()
		if err != nil {
			return err
		}
		if keystore.Exists(label) {
			fmt.Printf("%s A key labeled %q is already stored\n", errorStyle.Render("✗"), label)
			fmt.Println(infoStyle.Render("Remove it first or pick another --label"))
			return nil
		}
		if _, err := keystore.Store(label, signer.ExportHex()); err != nil {
			return err
		}
		fmt.Printf("%s Key stored in OS keyring as %q\n", successStyle.Render("✓"), label)
		fmt.Println(infoStyle.Render("The private key was not printed and exists only in the keyring."))
		return nil
	}

	fmt.Println("Private key:")
	fmt.Println(headerStyle.Render("  " + signer.ExportHex()))
	fmt.Println()
	fmt.Println(warningStyle.Render("Keep this key secret:"))
	fmt.Println(infoStyle.Render("  - Anyone holding it can sign settlements or payments"))
	fmt.Println(infoStyle.Render("  - Prefer --store to keep it in the OS keyring"))
	fmt.Println(infoStyle.Render("  - For the server, set FACILITATOR_PRIVATE_KEY or use KMS"))

	return nil
}
