// Package profiles resolves user profiles for the local account and its peers.
// A missing user or profile is an empty profile, not an error.
package profiles

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/platform/privacylog"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/pkg/models"
)

// Source is the read side of the remote store used here.
type Source interface {
	GetUserByInboxID(ctx context.Context, inboxID string) (models.User, error)
	GetProfileByAddress(ctx context.Context, address string) (models.Profile, error)
	GetProfilesForInboxIDs(ctx context.Context, inboxIDs []string) (map[string]models.PeerProfile, error)
}

type Service struct {
	source Source
	logger zerolog.Logger
}

func New(source Source, logger zerolog.Logger) *Service {
	return &Service{source: source, logger: logger.With().Str("component", "profiles").Logger()}
}

func (s *Service) ByAddress(ctx context.Context, address string) (models.Profile, error) {
	if strings.TrimSpace(address) == "" {
		return models.Profile{}, nil
	}
	p, err := s.source.GetProfileByAddress(ctx, address)
	if errors.Is(err, remotestore.ErrNotFound) {
		return models.Profile{}, nil
	}
	if err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

// ByInbox looks the user up by inbox id and then loads the profile by address.
func (s *Service) ByInbox(ctx context.Context, inboxID string) (models.PeerProfile, error) {
	if strings.TrimSpace(inboxID) == "" {
		return models.PeerProfile{}, nil
	}
	u, err := s.source.GetUserByInboxID(ctx, inboxID)
	if errors.Is(err, remotestore.ErrNotFound) {
		s.logMiss(inboxID)
		return models.PeerProfile{}, nil
	}
	if err != nil {
		return models.PeerProfile{}, err
	}
	p, err := s.ByAddress(ctx, u.Address)
	if err != nil {
		return models.PeerProfile{}, err
	}
	return models.PeerProfile{DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, Bio: p.Bio}, nil
}

// ForInboxes batches the lookup. Inboxes without a profile are absent from
// the result; a failed batch yields an empty map.
func (s *Service) ForInboxes(ctx context.Context, inboxIDs []string) map[string]models.PeerProfile {
	ids := make([]string, 0, len(inboxIDs))
	seen := make(map[string]bool, len(inboxIDs))
	for _, id := range inboxIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]models.PeerProfile{}
	}
	out, err := s.source.GetProfilesForInboxIDs(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("batched profile lookup failed")
		return map[string]models.PeerProfile{}
	}
	if out == nil {
		out = map[string]models.PeerProfile{}
	}
	return out
}

// DisplayName prefers the profile name, then the ENS name, then a shortened
// address.
func DisplayName(p models.PeerProfile, ensName, address string) string {
	switch {
	case strings.TrimSpace(p.DisplayName) != "":
		return p.DisplayName
	case strings.TrimSpace(ensName) != "":
		return ensName
	case len(address) > 10:
		return address[:6] + "..." + address[len(address)-4:]
	default:
		return address
	}
}

func (s *Service) logMiss(inboxID string) {
	privacylog.With(s.logger.Debug(), "inbox_id", inboxID).Msg("no profile for inbox")
}
