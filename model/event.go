package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity ranks alert events.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", name)
	}
	return nil
}

// AlertKey identifies one alertable condition: a metric on a host, optionally
// scoped to a sub-resource such as a filesystem mount point.
type AlertKey struct {
	Hostname string `json:"hostname"`
	Metric   string `json:"metric"`
	Resource string `json:"resource,omitempty"`
}

func (k AlertKey) String() string {
	if k.Resource == "" {
		return k.Hostname + "/" + k.Metric
	}
	return k.Hostname + "/" + k.Metric + ":" + k.Resource
}

// AlertEvent is emitted when a threshold breach fires outside its cooldown
// window, or (at info severity) when a condition recovers. Immutable.
type AlertEvent struct {
	ID        string    `json:"id"`
	Key       AlertKey  `json:"key"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	FiredAt   time.Time `json:"fired_at"`
	Message   string    `json:"message"`
}
