package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrUploadTokenInvalid = errors.New("upload token is invalid or already used")
	ErrSignatureInvalid   = errors.New("blob url signature is invalid")
	ErrSignatureExpired   = errors.New("blob url has expired")
)

const (
	DefaultUploadTTL = 15 * time.Minute
	DefaultURLTTL    = time.Hour
)

type UploadOptions struct {
	BaseURL   string
	Secret    string
	UploadTTL time.Duration
	URLTTL    time.Duration
	Now       func() time.Time
}

// Uploads issues one-shot upload URLs and signed, expiring read URLs for
// blobs kept in a BlobStore.
type Uploads struct {
	store     *BlobStore
	baseURL   string
	secret    []byte
	uploadTTL time.Duration
	urlTTL    time.Duration
	now       func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewUploads(store *BlobStore, opts UploadOptions) (*Uploads, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("url signing secret is required")
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = DefaultUploadTTL
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = DefaultURLTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Uploads{
		store:     store,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		secret:    []byte(opts.Secret),
		uploadTTL: opts.UploadTTL,
		urlTTL:    opts.URLTTL,
		now:       opts.Now,
		tokens:    make(map[string]time.Time),
	}, nil
}

func (u *Uploads) Store() *BlobStore { return u.store }

// GenerateUploadURL returns a URL that accepts exactly one POST of blob bytes.
func (u *Uploads) GenerateUploadURL(context.Context) (string, error) {
	token, err := randomToken(24)
	if err != nil {
		return "", err
	}
	now := u.now()
	u.mu.Lock()
	u.pruneLocked(now)
	u.tokens[token] = now.Add(u.uploadTTL)
	u.mu.Unlock()
	return u.baseURL + "/uploads/" + token, nil
}

// Accept stores data against token and consumes the token.
func (u *Uploads) Accept(token, mimeType string, data []byte) (BlobMeta, error) {
	now := u.now()
	u.mu.Lock()
	expires, ok := u.tokens[token]
	if ok {
		delete(u.tokens, token)
	}
	u.mu.Unlock()
	if !ok || !now.Before(expires) {
		return BlobMeta{}, ErrUploadTokenInvalid
	}
	return u.store.Put(mimeType, data)
}

func (u *Uploads) pruneLocked(now time.Time) {
	for token, expires := range u.tokens {
		if !now.Before(expires) {
			delete(u.tokens, token)
		}
	}
}

// GetURLForStorageID returns a signed read URL, or ErrBlobNotFound.
func (u *Uploads) GetURLForStorageID(_ context.Context, storageID string) (string, error) {
	if _, err := u.store.Stat(storageID); err != nil {
		return "", err
	}
	exp := u.now().Add(u.urlTTL).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", u.sign(storageID, exp))
	return fmt.Sprintf("%s/blobs/%s?%s", u.baseURL, storageID, q.Encode()), nil
}

// Open checks a signed read URL's parameters and returns the blob.
func (u *Uploads) Open(storageID, exp, sig string) (BlobMeta, []byte, error) {
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return BlobMeta{}, nil, ErrSignatureInvalid
	}
	want := u.sign(storageID, expiry)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return BlobMeta{}, nil, ErrSignatureInvalid
	}
	if u.now().Unix() > expiry {
		return BlobMeta{}, nil, ErrSignatureExpired
	}
	return u.store.Get(storageID)
}

func (u *Uploads) sign(storageID string, exp int64) string {
	mac := hmac.New(sha256.New, u.secret)
	mac.Write([]byte(storageID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
