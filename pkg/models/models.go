package models

import (
	"strings"
	"time"
)

// Identity is the wallet-derived messaging identity of the local user.
type Identity struct {
	WalletAddress  string `json:"wallet_address"`
	DisplayName    string `json:"display_name,omitempty"`
	InboxID        string `json:"inbox_id"`
	InstallationID string `json:"installation_id,omitempty"`
}

type User struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	InboxID   string    `json:"inboxId,omitempty"`
	ENSName   string    `json:"ensName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Profile struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	DisplayName     string    `json:"displayName,omitempty"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	AvatarStorageID string    `json:"avatarStorageId,omitempty"`
	Bio             string    `json:"bio,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PeerProfile is the public projection of a profile shown next to a peer.
type PeerProfile struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// StoredConversation is a conversation record persisted in the remote store.
type StoredConversation struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Participants []string  `json:"participants"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Counterpart returns the participant that is not self, compared case-insensitively.
func (c StoredConversation) Counterpart(self string) string {
	if len(c.Participants) < 2 {
		return ""
	}
	a, b := c.Participants[0], c.Participants[1]
	if strings.EqualFold(a, self) {
		return b
	}
	return a
}

type NetworkStats struct {
	ActiveRelays   int    `json:"activeRelays"`
	TotalBandwidth string `json:"totalBandwidth"`
}
