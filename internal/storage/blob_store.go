package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"phenix-chat/go-backend/internal/securestore"
)

var (
	ErrBlobNotFound      = errors.New("blob not found")
	ErrBlobEmpty         = errors.New("blob data is empty")
	ErrBlobTooLarge      = errors.New("blob exceeds max item size")
	ErrUnsupportedSchema = errors.New("unsupported storage schema version")
)

const blobIndexSchemaVersion = 1

type BlobMeta struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type BlobOptions struct {
	// Passphrase seals blobs and the index at rest when set.
	Passphrase   string
	KDF          securestore.KDFParams
	MaxItemBytes int64
	Now          func() time.Time
}

// BlobStore keeps uploaded blobs on disk, or in memory when dir is empty.
type BlobStore struct {
	mu        sync.RWMutex
	dir       string
	indexPath string
	sealer    *securestore.Sealer
	maxBytes  int64
	now       func() time.Time
	items     map[string]BlobMeta
	blobs     map[string][]byte
}

func NewBlobStore(dir string, opts BlobOptions) (*BlobStore, error) {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &BlobStore{
		dir:      strings.TrimSpace(dir),
		maxBytes: opts.MaxItemBytes,
		now:      opts.Now,
		items:    make(map[string]BlobMeta),
		blobs:    make(map[string][]byte),
	}
	if opts.Passphrase != "" {
		s.sealer = securestore.NewSealer(opts.Passphrase, opts.KDF)
	}
	if s.dir != "" {
		s.indexPath = filepath.Join(s.dir, "index.json")
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *BlobStore) Put(mimeType string, data []byte) (BlobMeta, error) {
	if len(data) == 0 {
		return BlobMeta{}, ErrBlobEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return BlobMeta{}, ErrBlobTooLarge
	}
	id, err := newBlobID()
	if err != nil {
		return BlobMeta{}, err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	meta := BlobMeta{ID: id, MimeType: mimeType, Size: int64(len(data)), CreatedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		s.items[id] = meta
		s.blobs[id] = append([]byte(nil), data...)
		return meta, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return BlobMeta{}, err
	}
	blob := append([]byte(nil), data...)
	if s.sealer != nil {
		if blob, err = s.sealer.Seal(blob); err != nil {
			return BlobMeta{}, err
		}
	}
	filePath := s.filePath(id)
	if err := securestore.WriteFileAtomic(filePath, blob); err != nil {
		return BlobMeta{}, err
	}
	next := cloneBlobMetaMap(s.items)
	next[id] = meta
	if err := s.persistItemsLocked(next); err != nil {
		_ = os.Remove(filePath)
		return BlobMeta{}, err
	}
	s.items = next
	return meta, nil
}

func (s *BlobStore) Stat(id string) (BlobMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.items[id]
	if !ok {
		return BlobMeta{}, ErrBlobNotFound
	}
	return meta, nil
}

func (s *BlobStore) Get(id string) (BlobMeta, []byte, error) {
	s.mu.RLock()
	meta, ok := s.items[id]
	blob, inMemory := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return BlobMeta{}, nil, ErrBlobNotFound
	}
	if inMemory {
		return meta, append([]byte(nil), blob...), nil
	}
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return BlobMeta{}, nil, ErrBlobNotFound
		}
		return BlobMeta{}, nil, err
	}
	if securestore.IsSealed(data) {
		if s.sealer == nil {
			return BlobMeta{}, nil, securestore.ErrAuthFailed
		}
		if data, err = s.sealer.Open(data); err != nil {
			return BlobMeta{}, nil, err
		}
	}
	return meta, data, nil
}

func (s *BlobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrBlobNotFound
	}
	return s.deleteIDsLocked([]string{id})
}

// PurgeOlderThan removes blobs created at or before cutoff.
func (s *BlobStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, meta := range s.items {
		if !meta.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.deleteIDsLocked(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

type blobIndex struct {
	SchemaVersion int                 `json:"schema_version"`
	Items         map[string]BlobMeta `json:"items"`
}

func (s *BlobStore) load() error {
	var payload blobIndex
	found, err := securestore.ReadJSON(s.indexPath, s.sealer, &payload)
	if err != nil || !found {
		return err
	}
	if payload.SchemaVersion > blobIndexSchemaVersion {
		return fmt.Errorf("%w: blobs=%d current=%d", ErrUnsupportedSchema, payload.SchemaVersion, blobIndexSchemaVersion)
	}
	if payload.Items != nil {
		s.items = payload.Items
	}
	return nil
}

func (s *BlobStore) persistItemsLocked(items map[string]BlobMeta) error {
	if s.indexPath == "" {
		return nil
	}
	return securestore.WriteJSON(s.indexPath, s.sealer, blobIndex{
		SchemaVersion: blobIndexSchemaVersion,
		Items:         items,
	})
}

func (s *BlobStore) deleteIDsLocked(ids []string) error {
	next := cloneBlobMetaMap(s.items)
	for _, id := range ids {
		delete(next, id)
		delete(s.blobs, id)
		if s.dir != "" {
			if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	if err := s.persistItemsLocked(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

func (s *BlobStore) filePath(id string) string {
	return filepath.Join(s.dir, id+".bin")
}

func cloneBlobMetaMap(in map[string]BlobMeta) map[string]BlobMeta {
	out := make(map[string]BlobMeta, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newBlobID() (string, error) {
	return randomToken(16)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}

// ValidBlobID reports whether id decodes as a base58 blob id.
func ValidBlobID(id string) bool {
	raw, err := base58.Decode(id)
	return err == nil && len(raw) == 16
}
