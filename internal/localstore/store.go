// Package localstore is the device-local durable key/value storage used for
// session resumption, the device encryption key, and the privacy score cache.
package localstore

import (
	"errors"
	"sync"

	"phenix-chat/go-backend/internal/securestore"
)

const (
	KeyDeviceEncryptionKey = "xmtp_db_key"
	KeyConnected           = "xmtp_connected"
	KeyAddress             = "xmtp_address"
	KeyPrivacyMetrics      = "privacy_metrics"
	KeyPrivacyLastUpdated  = "privacy_last_updated"
)

var ErrClosed = errors.New("localstore is closed")

type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Memory is a process-lifetime Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// File persists the whole key space as one JSON snapshot, sealed when a
// passphrase is configured. A failed write leaves the in-memory view unchanged.
type File struct {
	mu     sync.RWMutex
	path   string
	sealer *securestore.Sealer
	values map[string]string
}

func OpenFile(path, passphrase string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}
	if passphrase != "" {
		f.sealer = securestore.NewSealer(passphrase, securestore.DefaultKDF)
	}
	var snapshot fileSnapshot
	found, err := securestore.ReadJSON(path, f.sealer, &snapshot)
	if err != nil {
		return nil, err
	}
	if found && snapshot.Values != nil {
		f.values = snapshot.Values
	}
	return f, nil
}

type fileSnapshot struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.values[key]; ok && cur == value {
		return nil
	}
	next := cloneValues(f.values)
	next[key] = value
	return f.persistLocked(next)
}

func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := cloneValues(f.values)
	changed := false
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.persistLocked(next)
}

func (f *File) persistLocked(next map[string]string) error {
	if err := securestore.WriteJSON(f.path, f.sealer, fileSnapshot{Version: 1, Values: next}); err != nil {
		return err
	}
	f.values = next
	return nil
}

func cloneValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
