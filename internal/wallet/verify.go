package wallet

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("signature does not match address")

// RecoverAddress returns the lowercase address that produced a personal_sign
// signature over message. V may be 0/1 or 27/28.
func RecoverAddress(message string, sig []byte) (string, error) {
	if len(sig) != crypto.SignatureLength {
		return "", errors.New("signature must be 65 bytes")
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// VerifySignature checks that sig over message was produced by address.
func VerifySignature(address, message string, sig []byte) error {
	got, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(address) || !strings.EqualFold(got, common.HexToAddress(address).Hex()) {
		return ErrSignatureMismatch
	}
	return nil
}
