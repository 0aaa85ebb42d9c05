package securestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteJSON marshals v and writes it sealed when s is non-nil, plain otherwise.
func WriteJSON(path string, s *Sealer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if s != nil {
		if payload, err = s.Seal(payload); err != nil {
			return err
		}
	}
	return WriteFileAtomic(path, payload)
}

// ReadJSON reads path into v. A missing file leaves v untouched and reports
// found=false. Sealed content requires a sealer.
func ReadJSON(path string, s *Sealer, v any) (found bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if IsSealed(raw) {
		if s == nil {
			return true, ErrAuthFailed
		}
		if raw, err = s.Open(raw); err != nil {
			return true, err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, ErrInvalid
	}
	return true, nil
}
