package models

type PrivacyMetrics struct {
	EncryptionScore int `json:"encryptionScore"`
	NetworkScore    int `json:"networkScore"`
	DeviceScore     int `json:"deviceScore"`
	MetadataScore   int `json:"metadataScore"`
	OverallScore    int `json:"overallScore"`
}

type InsightSeverity string

const (
	InsightCritical InsightSeverity = "critical"
	InsightWarning  InsightSeverity = "warning"
	InsightInfo     InsightSeverity = "info"
	InsightSuccess  InsightSeverity = "success"
)

// PrivacyInsight is an actionable finding derived from the current signals.
// Impact is the number of points fixing it could recover; it is informational.
type PrivacyInsight struct {
	ID          string          `json:"id"`
	Severity    InsightSeverity `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Action      string          `json:"action,omitempty"`
	Impact      int             `json:"impact"`
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

type NetworkHealth struct {
	MessagingStatus  HealthStatus `json:"xmtpStatus"`
	AnyoneStatus     HealthStatus `json:"anyoneStatus"`
	MessagingLatency int64        `json:"xmtpLatency"`
	AnyoneLatency    int64        `json:"anyoneLatency"`
	MessagingNodes   int          `json:"xmtpNodes"`
	AnyoneRelays     int          `json:"anyoneRelays"`
}

func OfflineHealth() NetworkHealth {
	return NetworkHealth{MessagingStatus: HealthOffline, AnyoneStatus: HealthOffline}
}
