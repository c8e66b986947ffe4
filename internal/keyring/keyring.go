// Package keyring stores account tokens in the OS keychain.
package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "whimmy"

// RefPrefix marks a config token that lives in the keychain: "keyring:<account>".
const RefPrefix = "keyring:"

// ErrNotFound is returned when the keychain has no token for an account.
var ErrNotFound = errors.New("token not found in keychain")

// Get retrieves an account's token from the OS keychain.
func Get(account string) (string, error) {
	tok, err := zkr.Get(serviceName, account)
	if errors.Is(err, zkr.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return tok, nil
}

// Set stores an account's token in the OS keychain.
func Set(account, token string) error {
	if err := zkr.Set(serviceName, account, token); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes an account's token from the OS keychain.
func Delete(account string) error {
	err := zkr.Delete(serviceName, account)
	if err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Ref returns the config reference for an account's keychain token.
func Ref(account string) string {
	return RefPrefix + account
}

// IsRef reports whether token is a keychain reference.
func IsRef(token string) bool {
	return strings.HasPrefix(token, RefPrefix)
}

// Resolve returns token unchanged unless it is a keychain reference, in which
// case the referenced token is loaded.
func Resolve(token string) (string, error) {
	if !IsRef(token) {
		return token, nil
	}
	return Get(strings.TrimPrefix(token, RefPrefix))
}

// Available returns true if the OS keychain is functional.
// Returns false if WHIMMY_KEYRING_DISABLED=1 is set (opt-in for headless/CI/Docker).
// Otherwise probes the keychain with a test write/read/delete cycle.
func Available() bool {
	if os.Getenv("WHIMMY_KEYRING_DISABLED") == "1" {
		return false
	}
	testService := "whimmy-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}
