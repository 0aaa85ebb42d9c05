package identity

import (
	"errors"
	"strings"

	"phenix-chat/go-backend/internal/wallet"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("identity is connected")
	ErrInvalidDeviceKey  = errors.New("stored device key is invalid")
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrNoDeviceKey       = errors.New("no device key stored")
	ErrWalletUnavailable = errors.New("wallet unavailable")
)

type Kind string

const (
	KindNetwork           Kind = "network"
	KindRateLimited       Kind = "rate_limited"
	KindSignatureRejected Kind = "signature_rejected"
	KindNotFound          Kind = "not_found"
	KindWalletUnavailable Kind = "wallet_unavailable"
	KindRequestPending    Kind = "request_pending"
	KindGeneric           Kind = "generic"
)

const (
	msgNoWallet        = "No Ethereum wallet detected. Please install MetaMask or another compatible wallet."
	msgRequestRejected = "Connection request was rejected. Please approve the connection to continue."
	msgRequestPending  = "A connection request is already pending. Please check your wallet."
	msgRequestFailed   = "Failed to request wallet connection. Please try again."
	msgNetwork         = "XMTP network error. Please check your internet connection and try again."
	msgRateLimited     = "Too many connection attempts. Please wait a moment and try again."
	msgSignature       = "Wallet signature was rejected or unavailable. Please approve the XMTP request in your wallet."
	msgInitPrefix      = "Failed to initialize XMTP client: "
	msgSwitchFailed    = "Failed to switch account. Please try again."
	msgConnectFallback = "Failed to connect wallet"
)

// ConnectError carries the user-facing message for a failed connect.
type ConnectError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ConnectError) Error() string { return e.Message }

func (e *ConnectError) Unwrap() error { return e.Err }

func walletUnavailable() *ConnectError {
	return &ConnectError{Kind: KindWalletUnavailable, Message: msgNoWallet, Err: ErrWalletUnavailable}
}

// classifyRequestError maps an account request failure by provider code.
func classifyRequestError(err error) *ConnectError {
	switch wallet.ErrorCode(err) {
	case wallet.CodeUserRejected:
		return &ConnectError{Kind: KindSignatureRejected, Message: msgRequestRejected, Err: err}
	case wallet.CodeRequestPending:
		return &ConnectError{Kind: KindRequestPending, Message: msgRequestPending, Err: err}
	default:
		return &ConnectError{Kind: KindGeneric, Message: msgRequestFailed, Err: err}
	}
}

// classifyInitError maps a messaging client initialization failure by its
// message. Checks run in order: network, rate limit, signature.
func classifyInitError(err error) *ConnectError {
	raw := err.Error()
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "network"):
		return &ConnectError{Kind: KindNetwork, Message: msgNetwork, Err: err}
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return &ConnectError{Kind: KindRateLimited, Message: msgRateLimited, Err: err}
	case strings.Contains(lower, "sign"), strings.Contains(lower, "wallet"):
		return &ConnectError{Kind: KindSignatureRejected, Message: msgSignature, Err: err}
	default:
		return &ConnectError{Kind: KindGeneric, Message: msgInitPrefix + raw, Err: err}
	}
}

// userMessage extracts the message shown for err.
func userMessage(err error) string {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Message
	}
	if err == nil || err.Error() == "" {
		return msgConnectFallback
	}
	return err.Error()
}
