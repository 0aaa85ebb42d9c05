// Package wallet describes the injected wallet capability the identity layer
// signs with, plus a key-backed implementation for headless clients and tests.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-1193 provider error codes the identity layer distinguishes.
const (
	CodeUserRejected   = 4001
	CodeRequestPending = -32002
)

var ErrNoAccounts = errors.New("wallet exposes no accounts")

type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet provider error %d: %s", e.Code, e.Message)
}

// ErrorCode extracts the provider error code, or 0.
func ErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
)

type Event struct {
	Kind     EventKind
	Accounts []string
	ChainID  string
}

type Provider interface {
	// RequestAccounts asks the user to expose accounts (eth_requestAccounts).
	RequestAccounts(ctx context.Context) ([]string, error)
	// Accounts lists currently exposed accounts without prompting.
	Accounts(ctx context.Context) ([]string, error)
	// RequestPermissions re-prompts for account selection.
	RequestPermissions(ctx context.Context) error
	// SignMessage returns a 0x-prefixed personal_sign signature.
	SignMessage(ctx context.Context, address, message string) (string, error)
	// LookupAddress resolves a reverse name record, "" when none.
	LookupAddress(ctx context.Context, address string) (string, error)
	// Subscribe delivers provider notifications until ctx ends.
	Subscribe(ctx context.Context) <-chan Event
}

// NormalizeAddress validates a hex address and returns its lowercase form.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid wallet address %q", trimmed)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}
