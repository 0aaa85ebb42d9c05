package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"phenix-chat/go-backend/internal/localstore"
)

const deviceKeySize = 32

// loadOrCreateDeviceKey returns the persisted local database key, creating
// it on first use. The key never rotates.
func loadOrCreateDeviceKey(store localstore.Store) ([]byte, error) {
	raw, ok, err := store.Get(localstore.KeyDeviceEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("read device key: %w", err)
	}
	if ok {
		return decodeDeviceKey(raw)
	}
	key := make([]byte, deviceKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	if err := store.Set(localstore.KeyDeviceEncryptionKey, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("persist device key: %w", err)
	}
	return key, nil
}

func decodeDeviceKey(raw string) ([]byte, error) {
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != deviceKeySize {
		return nil, ErrInvalidDeviceKey
	}
	return key, nil
}
