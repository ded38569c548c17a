package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"tollgate/internal/kms"
	"tollgate/internal/wallet"

	"golang.org/x/term"
)

// SecureSetKey validates a private key and stores it in the OS keyring
// under the given label.
// fileFlag: path to file containing the key
func SecureSetKey(label, fileFlag string) error {
	key, err := readSecret("Enter private key (hex): ", "TOLLGATE_PRIVATE_KEY", fileFlag)
	if err != nil {
		return err
	}
	defer key.Zero() // CRITICAL: Always zero the key when done

	cleanedKey, err := ValidatePrivateKeyHex(key.String())
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	keystore, err := wallet.OpenKeystore()
	if err != nil {
		return err
	}

	if keystore.Exists(label) {
		fmt.Printf("\n%s Existing key labeled %q detected\n", warningStyle.Render("WARNING:"), label)
		fmt.Println("Storing a new key replaces it. Funds on the old address stay on the old address.")
		fmt.Print("\nType 'yes' to continue or 'no' to cancel: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(strings.ToLower(response)) != "yes" {
			return fmt.Errorf("key replacement cancelled")
		}
	}

	address, err := keystore.Store(label, cleanedKey)
	if err != nil {
		return err
	}

	fmt.Printf("%s Key stored as %q\n", successStyle.Render("✓"), label)
	fmt.Printf("  Address: %s\n", address)
	return nil
}

// SecureSetToken stores the admin bearer token in the OS keyring.
// Admin-guarded commands send it automatically afterwards.
func SecureSetToken() error {
	token, err := readSecret("Enter admin token: ", "TOLLGATE_ADMIN_TOKEN", "")
	if err != nil {
		return err
	}
	defer token.Zero()

	if token.IsEmpty() {
		return fmt.Errorf("empty admin token")
	}

	keystore, err := wallet.OpenKeystore()
	if err != nil {
		return err
	}
	if err := keystore.SetSecret(adminTokenItem, token.String()); err != nil {
		return err
	}

	fmt.Println(successStyle.Render("✓ Admin token stored in OS keyring"))
	return nil
}

// SecureEncryptKey encrypts a private key under an AWS KMS key and
// prints the ciphertext to set as FACILITATOR_PRIVATE_KEY_CIPHERTEXT.
// The deployment environment then only ever carries the ciphertext.
func SecureEncryptKey(region, keyID, fileFlag string) error {
	key, err := readSecret("Enter private key (hex): ", "TOLLGATE_PRIVATE_KEY", fileFlag)
	if err != nil {
		return err
	}
	defer key.Zero()

	cleanedKey, err := ValidatePrivateKeyHex(key.String())
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	ctx := context.Background()
	client, err := kms.New(ctx, &kms.Config{Region: region, KeyID: keyID})
	if err != nil {
		return err
	}
	ciphertext, err := client.Encrypt(ctx, cleanedKey)
	if err != nil {
		return fmt.Errorf("kms encryption failed: %w", err)
	}

	fmt.Println(titleStyle.Render("Encrypted facilitator key"))
	fmt.Println("Set these on the facilitator:")
	fmt.Printf("  FACILITATOR_PRIVATE_KEY_CIPHERTEXT=%s\n", ciphertext)
	fmt.Printf("  KMS_REGION=%s\n", region)
	fmt.Printf("  KMS_KEY_ID=%s\n", client.KeyID())
	return nil
}

// SecureShow reports what the keyring holds without printing secrets.
func SecureShow() error {
	keystore, err := wallet.OpenKeystore()
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Keyring contents"))

	if keystore.Exists(DefaultKeyLabel) {
		signer, err := keystore.Load(DefaultKeyLabel)
		if err != nil {
			fmt.Printf("  Key %q:    %s\n", DefaultKeyLabel, errorStyle.Render("unreadable"))
		} else {
			fmt.Printf("  Key %q:    %s\n", DefaultKeyLabel, signer.AddressString())
			signer.Zero()
		}
	} else {
		fmt.Printf("  Key %q:    %s\n", DefaultKeyLabel, infoStyle.Render("not stored"))
	}

	if _, err := keystore.Secret(adminTokenItem); err == nil {
		fmt.Printf("  Admin token:       %s\n", successStyle.Render("stored"))
	} else {
		fmt.Printf("  Admin token:       %s\n", infoStyle.Render("not stored"))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Secrets themselves are never printed."))
	return nil
}

// loadAdminToken resolves the bearer token admin-guarded commands send.
// Environment wins over the keyring; a missing token is not an error
// because servers without ADMIN_JWT_SECRET accept unauthenticated calls.
func loadAdminToken() string {
	if token := os.Getenv("TOLLGATE_ADMIN_TOKEN"); token != "" {
		return token
	}
	keystore, err := wallet.OpenKeystore()
	if err != nil {
		return ""
	}
	token, err := keystore.Secret(adminTokenItem)
	if err != nil {
		return ""
	}
	return token
}

// readSecret reads sensitive input from various sources in order of precedence:
// 1. stdin (if piped)
// 2. environment variable
// 3. file flag
// 4. interactive hidden prompt (if terminal)
//
// Returns a SecureBytes that must be zeroed when done (caller should use defer).
func readSecret(prompt, envVar, fileFlag string) (*SecureBytes, error) {
	// 1. Check stdin (if piped)
	stdinInfo, _ := os.Stdin.Stat()
	if (stdinInfo.Mode() & os.ModeCharDevice) == 0 {
		reader := bufio.NewReader(os.Stdin)
		value, err := reader.ReadString('\n')
		if err != nil && value == "" {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return NewSecureBytes([]byte(strings.TrimSpace(value))), nil
	}

	// 2. Check environment variable
	if envVar != "" {
		if value := os.Getenv(envVar); value != "" {
			return NewSecureBytes([]byte(strings.TrimSpace(value))), nil
		}
	}

	// 3. Check file flag
	if fileFlag != "" {
		info, err := os.Stat(fileFlag)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("secret file not found: %s", fileFlag)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading secret file: %s", fileFlag)
			}
			return nil, fmt.Errorf("failed to stat secret file: %w", err)
		}
		if info.Size() == 0 {
			return nil, fmt.Errorf("secret file is empty: %s", fileFlag)
		}
		if info.Size() > MaxKeyFileSize {
			return nil, fmt.Errorf("secret file too large: %d bytes (max %d)", info.Size(), MaxKeyFileSize)
		}
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		trimmed := strings.TrimSpace(string(data))
		for i := range data {
			data[i] = 0
		}
		return NewSecureBytes([]byte(trimmed)), nil
	}

	// 4. Interactive hidden prompt (only if terminal)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println() // newline after hidden input
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		trimmed := strings.TrimSpace(string(value))
		for i := range value {
			value[i] = 0
		}
		return NewSecureBytes([]byte(trimmed)), nil
	}

	return nil, fmt.Errorf("no input provided. Use stdin, %s env var, --file flag, or run interactively", envVar)
}
