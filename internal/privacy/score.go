package privacy

import (
	"math"
	"strconv"
	"strings"

	"phenix-chat/go-backend/pkg/models"
)

// Signals are the independently changing inputs of the score.
type Signals struct {
	MessagingConnected bool
	Registered         bool
	InstallationID     string
	AnyoneConnected    bool
	CircuitID          string
	RelayCount         int
	Bandwidth          string
	SecureTransport    bool
	CryptoAPI          bool
	SecureContext      bool
}

// watched is the subset of Signals whose change triggers a refresh.
type watched struct {
	messaging  bool
	registered bool
	anyone     bool
	circuit    string
	relays     int
}

func (s Signals) watched() watched {
	return watched{
		messaging:  s.MessagingConnected,
		registered: s.Registered,
		anyone:     s.AnyoneConnected,
		circuit:    s.CircuitID,
		relays:     s.RelayCount,
	}
}

// EncryptionScore is zero without an active messaging session.
func EncryptionScore(s Signals) int {
	if !s.MessagingConnected {
		return 0
	}
	score := 40
	if s.Registered {
		score += 20
	}
	if s.InstallationID != "" {
		score += 20
	}
	// forward secrecy is inherent to an active session
	score += 20
	return min(score, 100)
}

func NetworkScore(s Signals) int {
	score := 0
	if s.MessagingConnected {
		score += 50
	}
	if s.AnyoneConnected && s.CircuitID != "" {
		score += 50
	}
	return min(score, 100)
}

func DeviceScore(s Signals) int {
	score := 60
	if s.SecureTransport {
		score += 20
	}
	if s.CryptoAPI {
		score += 10
	}
	if s.SecureContext {
		score += 10
	}
	return min(score, 100)
}

func MetadataScore(s Signals) int {
	score := 20
	if s.AnyoneConnected {
		score += 40
	}
	if s.RelayCount > 2 {
		score += 20
	}
	if BandwidthPresent(s.Bandwidth) {
		score += 20
	}
	return min(score, 100)
}

// BandwidthPresent reports whether a "<n> <unit>" reading has n > 0.
func BandwidthPresent(bandwidth string) bool {
	fields := strings.Fields(bandwidth)
	if len(fields) == 0 {
		return false
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	return err == nil && n > 0
}

// Overall combines sub-scores with w, rounded and clamped to [0,100].
func Overall(w Weights, encryption, network, device, metadata int) int {
	v := math.Round(float64(encryption)*w.Encryption + float64(network)*w.Network + float64(device)*w.Device + float64(metadata)*w.Metadata)
	return int(math.Max(0, math.Min(100, v)))
}

func Compute(w Weights, s Signals) models.PrivacyMetrics {
	m := models.PrivacyMetrics{
		EncryptionScore: EncryptionScore(s),
		NetworkScore:    NetworkScore(s),
		DeviceScore:     DeviceScore(s),
		MetadataScore:   MetadataScore(s),
	}
	m.OverallScore = Overall(w, m.EncryptionScore, m.NetworkScore, m.DeviceScore, m.MetadataScore)
	return m
}
