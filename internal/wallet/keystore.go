package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/crypto"
)

const keystoreService = "tollgate"

// Keystore persists the facilitator key in the OS keyring so operators
// never keep it in env files. Used by the CLI's keygen and secure
// commands; the server reads it only when told to.
type Keystore struct {
	ring keyring.Keyring
}

// OpenKeystore opens the platform keyring.
func OpenKeystore() (*Keystore, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return &Keystore{ring: ring}, nil
}

// openKeyring opens the OS keyring with appropriate configuration.
func openKeyring() (keyring.Keyring, error) {
	// On Linux, check what's available and provide explicit errors.
	if runtime.GOOS == "linux" {
		return openLinuxKeyring()
	}

	// macOS and Windows use their native keyrings.
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keystoreService,
		KeychainName:             keystoreService,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open system keyring: %w", err)
	}
	return ring, nil
}

// openLinuxKeyring tries Linux-specific backends with explicit error messages.
func openLinuxKeyring() (keyring.Keyring, error) {
	var failures []string

	if hasSecretService() {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:              keystoreService,
			KeychainName:             keystoreService,
			KeychainTrustApplication: true,
			AllowedBackends:          []keyring.BackendType{keyring.SecretServiceBackend},
		})
		if err == nil {
			return ring, nil
		}
		failures = append(failures, fmt.Sprintf("Secret Service: %v", err))
	} else {
		failures = append(failures, "Secret Service: DBUS_SESSION_BUS_ADDRESS not set (is a desktop session running?)")
	}

	if hasKWallet() {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:              keystoreService,
			KeychainName:             keystoreService,
			KeychainTrustApplication: true,
			AllowedBackends:          []keyring.BackendType{keyring.KWalletBackend},
		})
		if err == nil {
			return ring, nil
		}
		failures = append(failures, fmt.Sprintf("KWallet: %v", err))
	} else {
		failures = append(failures, "KWallet: KDE_SESSION_VERSION not set (not running KDE?)")
	}

	if hasPass() {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:              keystoreService,
			KeychainName:             keystoreService,
			KeychainTrustApplication: true,
			AllowedBackends:          []keyring.BackendType{keyring.PassBackend},
		})
		if err == nil {
			return ring, nil
		}
		failures = append(failures, fmt.Sprintf("pass: %v", err))
	} else {
		failures = append(failures, "pass: 'pass' command not found in PATH (install: sudo apt install pass)")
	}

	return nil, fmt.Errorf("no secure keyring available:\n  - %s\n\nInstall one of the above and try again", strings.Join(failures, "\n  - "))
}

func keystoreItem(label string) string {
	return fmt.Sprintf("facilitator-%s", label)
}

// Store validates and saves a private key under a label.
func (k *Keystore) Store(label, privateKeyHex string) (address string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	defer func() {
		if key.D != nil {
			key.D.SetUint64(0)
		}
	}()

	if err := k.ring.Set(keyring.Item{
		Key:  keystoreItem(label),
		Data: []byte(trimmed),
	}); err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}
	return addr, nil
}

// Load returns a signer for the stored key.
func (k *Keystore) Load(label string) (*Signer, error) {
	item, err := k.ring.Get(keystoreItem(label))
	if err != nil {
		return nil, fmt.Errorf("key %q not found in keyring: %w", label, err)
	}
	return NewSigner(string(item.Data))
}

// Exists reports whether a key is stored under the label.
func (k *Keystore) Exists(label string) bool {
	_, err := k.ring.Get(keystoreItem(label))
	return err == nil
}

// Delete removes a stored key.
func (k *Keystore) Delete(label string) error {
	if err := k.ring.Remove(keystoreItem(label)); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", label, err)
	}
	return nil
}

// SetSecret stores an arbitrary secret string under a name. Unlike
// Store it performs no key validation; the CLI uses it for the admin
// bearer token.
func (k *Keystore) SetSecret(name, value string) error {
	if err := k.ring.Set(keyring.Item{
		Key:  name,
		Data: []byte(value),
	}); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Secret returns a stored secret string.
func (k *Keystore) Secret(name string) (string, error) {
	item, err := k.ring.Get(name)
	if err != nil {
		return "", fmt.Errorf("secret %q not found in keyring: %w", name, err)
	}
	return string(item.Data), nil
}

// DeleteSecret removes a stored secret.
func (k *Keystore) DeleteSecret(name string) error {
	if err := k.ring.Remove(name); err != nil {
		return fmt.Errorf("failed to remove secret %q: %w", name, err)
	}
	return nil
}

// CheckKeyringAvailability reports whether a secure keyring backend can
// be opened on this machine.
func CheckKeyringAvailability() (bool, error) {
	if _, err := openKeyring(); err != nil {
		return false, err
	}
	return true, nil
}

func hasSecretService() bool {
	return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
}

func hasKWallet() bool {
	return os.Getenv("KDE_SESSION_VERSION") != ""
}

func hasPass() bool {
	_, err := lookPath("pass")
	return err == nil
}

func lookPath(file string) (string, error) {
	for _, dir := range strings.Split(os.Getenv("PATH"), string(filepath.ListSeparator)) {
		path := filepath.Join(dir, file)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH", file)
}
