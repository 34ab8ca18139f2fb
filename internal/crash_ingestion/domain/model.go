package domain

import "time"

// RawCrash is the crash annotation data. Form fields are strings; the
// collector adds typed values (throttle result, timestamps, dump checksums).
type RawCrash map[string]interface{}

// Dumps maps dump field names to their binary contents.
type Dumps map[string][]byte

// CrashReport is a crash accepted for saving.
type CrashReport struct {
	RawCrash   RawCrash
	Dumps      Dumps
	CrashID    string
	ReceivedAt time.Time
}

// GetString returns the string value stored under key, if any.
func (r RawCrash) GetString(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Keys of the raw crash that the collector reads or writes.
const (
	KeyUUID               = "uuid"
	KeyLegacyProcessing   = "legacy_processing"
	KeyThrottleRate       = "throttle_rate"
	KeyThrottleable       = "Throttleable"
	KeySubmittedTimestamp = "submitted_timestamp"
	KeyTimestamp          = "timestamp"
	KeyTypeTag            = "type_tag"
	KeyDumpChecksums      = "dump_checksums"
)

// HealthState collects problems and informational values reported by
// components during a heartbeat check.
type HealthState struct {
	Errors []string               `json:"errors"`
	Info   map[string]interface{} `json:"info"`
}

func NewHealthState() *HealthState {
	return &HealthState{
		Errors: []string{},
		Info:   map[string]interface{}{},
	}
}

func (h *HealthState) AddError(name, msg string) {
	h.Errors = append(h.Errors, name+": "+msg)
}

func (h *HealthState) SetInfo(name string, value interface{}) {
	h.Info[name] = value
}

func (h *HealthState) IsHealthy() bool {
	return len(h.Errors) == 0
}
