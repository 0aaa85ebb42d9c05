package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenix-chat/go-backend/pkg/models"
)

func fullSignals() Signals {
	return Signals{
		MessagingConnected: true,
		Registered:         true,
		InstallationID:     "inst-1",
		AnyoneConnected:    true,
		CircuitID:          "12",
		RelayCount:         6000,
		Bandwidth:          "57 GB/s",
		SecureTransport:    true,
		CryptoAPI:          true,
		SecureContext:      true,
	}
}

func insightIDs(in []models.PrivacyInsight) []string {
	ids := make([]string, 0, len(in))
	for _, i := range in {
		ids = append(ids, i.ID)
	}
	return ids
}

func TestOverallWeighting(t *testing.T) {
	w := DefaultConfig().Weights
	assert.Equal(t, 100, Overall(w, 100, 100, 100, 100))
	assert.Equal(t, 0, Overall(w, 0, 0, 0, 0))
	// 0.4*40 + 0.3*50 + 0.2*60 + 0.1*20 = 45
	assert.Equal(t, 45, Overall(w, 40, 50, 60, 20))
	// 0.4*0 + 0.3*0 + 0.2*80 + 0.1*20 = 18
	assert.Equal(t, 18, Overall(w, 0, 0, 80, 20))
	// rounding: 0.1*5 = 0.5 rounds up
	assert.Equal(t, 1, Overall(w, 0, 0, 0, 5))
	assert.Equal(t, 100, Overall(Weights{Encryption: 2}, 100, 0, 0, 0))
}

func TestEncryptionRequiresActiveSession(t *testing.T) {
	s := fullSignals()
	assert.Equal(t, 100, EncryptionScore(s))

	s.MessagingConnected = false
	assert.Zero(t, EncryptionScore(s))

	s = fullSignals()
	s.Registered = false
	s.InstallationID = ""
	assert.Equal(t, 60, EncryptionScore(s))
}

func TestSubScores(t *testing.T) {
	s := fullSignals()
	assert.Equal(t, 100, NetworkScore(s))
	assert.Equal(t, 100, DeviceScore(s))
	assert.Equal(t, 100, MetadataScore(s))

	s.CircuitID = ""
	assert.Equal(t, 50, NetworkScore(s), "anyone counts only with a circuit")

	var empty Signals
	assert.Zero(t, NetworkScore(empty))
	assert.Equal(t, 60, DeviceScore(empty))
	assert.Equal(t, 20, MetadataScore(empty))

	m := Compute(DefaultConfig().Weights, empty)
	assert.Equal(t, models.PrivacyMetrics{DeviceScore: 60, MetadataScore: 20, OverallScore: 14}, m)
}

func TestBandwidthPresent(t *testing.T) {
	assert.True(t, BandwidthPresent("57 GB/s"))
	assert.True(t, BandwidthPresent("0.5 MB/s"))
	assert.False(t, BandwidthPresent("0 MB/s"))
	assert.False(t, BandwidthPresent(""))
	assert.False(t, BandwidthPresent("fast"))
}

func TestLabelAndColor(t *testing.T) {
	cases := []struct {
		score int
		label string
		color string
	}{
		{100, "EXCELLENT", "text-green-400"},
		{90, "EXCELLENT", "text-green-400"},
		{89, "GOOD", "text-yellow-400"},
		{70, "GOOD", "text-yellow-400"},
		{50, "FAIR", "text-orange-400"},
		{49, "POOR", "text-red-400"},
		{0, "POOR", "text-red-400"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.label, ScoreLabel(tc.score), "score %d", tc.score)
		assert.Equal(t, tc.color, ScoreColor(tc.score), "score %d", tc.score)
	}
}

func TestInsightsDisconnected(t *testing.T) {
	var s Signals
	ids := insightIDs(Insights(s, Compute(DefaultConfig().Weights, s)))
	assert.Equal(t, []string{"no-xmtp", "no-anyone", "no-https", "no-crypto-api", "insecure-context", "metadata-exposed"}, ids)
}

func TestInsightsRegistrationChain(t *testing.T) {
	s := fullSignals()
	s.Registered = false
	ids := insightIDs(Insights(s, Compute(DefaultConfig().Weights, s)))
	require.NotEmpty(t, ids)
	assert.Equal(t, "device-not-registered", ids[0])
	assert.NotContains(t, ids, "no-installation", "only the first session finding is reported")

	s = fullSignals()
	s.InstallationID = ""
	ids = insightIDs(Insights(s, Compute(DefaultConfig().Weights, s)))
	assert.Equal(t, "no-installation", ids[0])
}

func TestInsightsLowRelays(t *testing.T) {
	s := fullSignals()
	s.RelayCount = 2
	in := Insights(s, Compute(DefaultConfig().Weights, s))
	ids := insightIDs(in)
	require.Contains(t, ids, "low-relay-count")
	for _, i := range in {
		if i.ID == "low-relay-count" {
			assert.Contains(t, i.Description, "Only 2 relays")
		}
	}
}

func TestInsightsPerfect(t *testing.T) {
	s := fullSignals()
	m := Compute(DefaultConfig().Weights, s)
	require.Equal(t, 100, m.OverallScore)
	assert.Equal(t, []string{"perfect-privacy", "privacy-education"}, insightIDs(Insights(s, m)))
}

func TestInsightsSuccessTiers(t *testing.T) {
	assert.Equal(t, []string{"excellent-privacy", "privacy-education"},
		insightIDs(Insights(fullSignals(), models.PrivacyMetrics{OverallScore: 88, MetadataScore: 100})))
	assert.Equal(t, []string{"good-privacy"},
		insightIDs(Insights(fullSignals(), models.PrivacyMetrics{OverallScore: 72, MetadataScore: 100})))
	assert.Empty(t, Insights(fullSignals(), models.PrivacyMetrics{OverallScore: 60, MetadataScore: 100}))
}
