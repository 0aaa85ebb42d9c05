package privacy

import (
	"fmt"

	"phenix-chat/go-backend/pkg/models"
)

// Insights derives the ordered insight list for s and its computed metrics.
func Insights(s Signals, m models.PrivacyMetrics) []models.PrivacyInsight {
	var out []models.PrivacyInsight

	switch {
	case !s.MessagingConnected:
		out = append(out, models.PrivacyInsight{
			ID:          "no-xmtp",
			Severity:    models.InsightCritical,
			Title:       "XMTP Not Connected",
			Description: "Your messages are completely unencrypted and vulnerable to interception. XMTP provides end-to-end encryption.",
			Action:      "Connect Wallet",
			Impact:      40,
		})
	case !s.Registered:
		out = append(out, models.PrivacyInsight{
			ID:          "device-not-registered",
			Severity:    models.InsightWarning,
			Title:       "Device Not Registered",
			Description: "This device cannot send encrypted messages. Registration creates unique cryptographic keys for this device.",
			Action:      "Register Device",
			Impact:      20,
		})
	case s.InstallationID == "":
		out = append(out, models.PrivacyInsight{
			ID:          "no-installation",
			Severity:    models.InsightWarning,
			Title:       "Installation Not Complete",
			Description: "Your XMTP installation is incomplete. This may affect message delivery and encryption.",
			Action:      "Complete Setup",
			Impact:      15,
		})
	}

	switch {
	case !s.AnyoneConnected:
		out = append(out, models.PrivacyInsight{
			ID:          "no-anyone",
			Severity:    models.InsightWarning,
			Title:       "IP Address Exposed",
			Description: "Your real IP address and location are visible to network observers. Anyone Protocol routes traffic through multiple encrypted relays.",
			Action:      "Connect to Anyone",
			Impact:      50,
		})
	case s.RelayCount < 3:
		out = append(out, models.PrivacyInsight{
			ID:          "low-relay-count",
			Severity:    models.InsightInfo,
			Title:       "Limited Relay Protection",
			Description: fmt.Sprintf("Only %d relays active. More relays provide better anonymity and protection against traffic analysis.", s.RelayCount),
			Action:      "Optimize Network",
			Impact:      10,
		})
	}

	if !s.SecureTransport {
		out = append(out, models.PrivacyInsight{
			ID:          "no-https",
			Severity:    models.InsightCritical,
			Title:       "Insecure Connection",
			Description: "HTTP connections can be intercepted by anyone on your network. HTTPS encrypts data in transit.",
			Impact:      20,
		})
	}
	if !s.CryptoAPI {
		out = append(out, models.PrivacyInsight{
			ID:          "no-crypto-api",
			Severity:    models.InsightWarning,
			Title:       "Limited Cryptographic Support",
			Description: "Modern cryptographic APIs are unavailable. This may weaken encryption strength.",
			Impact:      15,
		})
	}
	if !s.SecureContext {
		out = append(out, models.PrivacyInsight{
			ID:          "insecure-context",
			Severity:    models.InsightWarning,
			Title:       "Insecure Browser Context",
			Description: "Your browser context is not secure. Some privacy features may be disabled.",
			Impact:      10,
		})
	}

	if m.MetadataScore < 70 {
		out = append(out, models.PrivacyInsight{
			ID:          "metadata-exposed",
			Severity:    models.InsightInfo,
			Title:       "Metadata Leakage Risk",
			Description: "Message timing, size patterns, and connection metadata may reveal information about your communications.",
			Action:      "Enable Full Anonymity",
			Impact:      30,
		})
	}

	switch {
	case m.OverallScore >= 95:
		out = append(out, models.PrivacyInsight{
			ID:          "perfect-privacy",
			Severity:    models.InsightSuccess,
			Title:       "Perfect Privacy Setup",
			Description: "Outstanding! You have maximum privacy protection.",
		})
	case m.OverallScore >= 85:
		out = append(out, models.PrivacyInsight{
			ID:          "excellent-privacy",
			Severity:    models.InsightSuccess,
			Title:       "Excellent Privacy",
			Description: "Great job! Your privacy setup is excellent. Only minor optimizations remain.",
		})
	case m.OverallScore >= 70:
		out = append(out, models.PrivacyInsight{
			ID:          "good-privacy",
			Severity:    models.InsightSuccess,
			Title:       "Good Privacy Protection",
			Description: "You have solid privacy protection. Consider the recommendations above for even better security.",
		})
	}

	if m.OverallScore >= 80 {
		out = append(out, models.PrivacyInsight{
			ID:          "privacy-education",
			Severity:    models.InsightInfo,
			Title:       "Privacy Best Practices",
			Description: "Use unique passwords, enable 2FA on your wallet, and avoid sharing sensitive info in any digital format.",
		})
	}
	return out
}
