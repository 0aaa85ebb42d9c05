package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"phenix-chat/go-backend/internal/localstore"
)

// ExportDeviceKey encodes the local database key as a 24-word mnemonic.
func (m *Manager) ExportDeviceKey() (string, error) {
	raw, ok, err := m.local.Get(localstore.KeyDeviceEncryptionKey)
	if err != nil {
		return "", fmt.Errorf("read device key: %w", err)
	}
	if !ok {
		return "", ErrNoDeviceKey
	}
	key, err := decodeDeviceKey(raw)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(key)
}

// RestoreDeviceKey replaces the local database key from a mnemonic. It is
// refused while a session is connected.
func (m *Manager) RestoreDeviceKey(mnemonic string) error {
	if m.State().Connected {
		return ErrAlreadyConnected
	}
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}
	key, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	if len(key) != deviceKeySize {
		return ErrInvalidMnemonic
	}
	if err := m.local.Set(localstore.KeyDeviceEncryptionKey, hex.EncodeToString(key)); err != nil {
		return fmt.Errorf("persist device key: %w", err)
	}
	m.logger.Info().Msg("device key restored from backup")
	return nil
}
