// Package remotestore defines the remote persistence contract for users,
// profiles, the conversation index, and avatar uploads.
package remotestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"phenix-chat/go-backend/pkg/models"
)

var (
	ErrNotFound        = errors.New("remote record not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ProfileUpdate holds optional profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName     *string `json:"displayName,omitempty"`
	AvatarURL       *string `json:"avatarUrl,omitempty"`
	AvatarStorageID *string `json:"avatarStorageId,omitempty"`
	Bio             *string `json:"bio,omitempty"`
}

type Users interface {
	// UpsertUser returns the user record id. Empty ensName or inboxID clear
	// the stored values.
	UpsertUser(ctx context.Context, address, ensName, inboxID string) (string, error)
	GetUserByAddress(ctx context.Context, address string) (models.User, error)
	GetUserByInboxID(ctx context.Context, inboxID string) (models.User, error)
}

type Conversations interface {
	// UpsertConversation is idempotent per CanonicalKey(participants).
	UpsertConversation(ctx context.Context, participants []string) (string, error)
	UpdateLastMessage(ctx context.Context, key, lastMessage string) error
	GetConversationsForAddress(ctx context.Context, address string) ([]models.StoredConversation, error)
}

type Profiles interface {
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (string, error)
	// GetProfileByAddress hydrates AvatarURL from AvatarStorageID when set.
	GetProfileByAddress(ctx context.Context, address string) (models.Profile, error)
	// GetProfilesForInboxIDs omits inboxes without a user or profile.
	GetProfilesForInboxIDs(ctx context.Context, inboxIDs []string) (map[string]models.PeerProfile, error)
}

type Uploads interface {
	GenerateUploadURL(ctx context.Context) (string, error)
	GetURLForStorageID(ctx context.Context, storageID string) (string, error)
}

type Store interface {
	Users
	Conversations
	Profiles
	Uploads
}

// CanonicalKey lowercases and sorts participants and joins them with ':'.
func CanonicalKey(participants []string) string {
	normalized := make([]string, 0, len(participants))
	for _, p := range participants {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ":")
}

// NormalizeID trims and lowercases an address or inbox id.
func NormalizeID(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func StringPtr(v string) *string { return &v }
