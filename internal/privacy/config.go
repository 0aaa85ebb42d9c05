package privacy

import "time"

// Weights are the shares of each sub-score in the overall score.
type Weights struct {
	Encryption float64 `yaml:"encryption"`
	Network    float64 `yaml:"network"`
	Device     float64 `yaml:"device"`
	Metadata   float64 `yaml:"metadata"`
}

// Thresholds bound the presentation tiers of a score.
type Thresholds struct {
	Excellent int `yaml:"excellent"`
	Good      int `yaml:"good"`
	Fair      int `yaml:"fair"`
}

// Config tunes scoring, cache freshness and health classification.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	StaleAfter   time.Duration `yaml:"stale_after"`
	PurgeAfter   time.Duration `yaml:"purge_after"`
	TickInterval time.Duration `yaml:"tick_interval"`

	MessagingHealthyBelow time.Duration `yaml:"messaging_healthy_below"`
	AnyoneHealthyBelow    time.Duration `yaml:"anyone_healthy_below"`
}

// DefaultConfig returns the 0.4/0.3/0.2/0.1 weighting with 5 minute staleness.
func DefaultConfig() Config {
	return Config{
		Weights:               Weights{Encryption: 0.4, Network: 0.3, Device: 0.2, Metadata: 0.1},
		Thresholds:            Thresholds{Excellent: 90, Good: 70, Fair: 50},
		StaleAfter:            5 * time.Minute,
		PurgeAfter:            time.Hour,
		TickInterval:          5 * time.Minute,
		MessagingHealthyBelow: time.Second,
		AnyoneHealthyBelow:    800 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.PurgeAfter <= 0 {
		c.PurgeAfter = d.PurgeAfter
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MessagingHealthyBelow <= 0 {
		c.MessagingHealthyBelow = d.MessagingHealthyBelow
	}
	if c.AnyoneHealthyBelow <= 0 {
		c.AnyoneHealthyBelow = d.AnyoneHealthyBelow
	}
	return c
}

func (c Config) Label(score int) string {
	t := c.withDefaults().Thresholds
	switch {
	case score >= t.Excellent:
		return "EXCELLENT"
	case score >= t.Good:
		return "GOOD"
	case score >= t.Fair:
		return "FAIR"
	default:
		return "POOR"
	}
}

func (c Config) Color(score int) string {
	t := c.withDefaults().Thresholds
	switch {
	case score >= t.Excellent:
		return "text-green-400"
	case score >= t.Good:
		return "text-yellow-400"
	case score >= t.Fair:
		return "text-orange-400"
	default:
		return "text-red-400"
	}
}

func ScoreLabel(score int) string { return DefaultConfig().Label(score) }

func ScoreColor(score int) string { return DefaultConfig().Color(score) }
