package resilience

import (
	"strconv"
	"strings"
)

// ContractVersion is the single canonical schema version for resilience records.
const ContractVersion = "resilience.v1"

// State is the incident/cooldown admission-control record carried across runs.
// The runtime never owns its storage; see Store.
type State struct {
	ContractVersion    string `json:"contract_version"`
	DegradeMode        bool   `json:"degrade_mode"`
	DegradeReason      string `json:"degrade_reason"`
	IncidentCount      int    `json:"incident_count"`
	CooldownUntilEpoch int64  `json:"cooldown_until_epoch"`
	LastErrorType      string `json:"last_error_type"`
}

// CircuitStatus is the per-dependency breaker state.
type CircuitStatus string

const (
	CircuitUnknown  CircuitStatus = "unknown"
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// Circuit tracks breaker counters for one upstream dependency.
type Circuit struct {
	State          CircuitStatus `json:"state"`
	FailCount      int           `json:"fail_count"`
	OpenUntilEpoch int64         `json:"open_until_epoch"`
	LastErrorType  string        `json:"last_error_type"`
}

// ParseCircuitStatus normalizes unknown strings to CircuitUnknown.
func ParseCircuitStatus(s string) CircuitStatus {
	switch CircuitStatus(strings.ToLower(strings.TrimSpace(s))) {
	case CircuitClosed:
		return CircuitClosed
	case CircuitOpen:
		return CircuitOpen
	case CircuitHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitUnknown
	}
}

// ParseBool accepts the truthy spellings legacy records used ("1", "true",
// "yes", "y", "on", case-insensitive) plus native bools and numbers.
func ParseBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return false
	}
}

// CoerceInt converts legacy numeric fields, falling back to 0 on anything
// unparsable.
func CoerceInt(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	default:
		return 0
	}
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Normalize clamps counters and pins the contract version. Idempotent.
func (s State) Normalize() State {
	s.ContractVersion = ContractVersion
	if s.IncidentCount < 0 {
		s.IncidentCount = 0
	}
	if s.CooldownUntilEpoch < 0 {
		s.CooldownUntilEpoch = 0
	}
	if !s.DegradeMode {
		s.DegradeReason = ""
	}
	return s
}

// Reset returns the zero admission state. Operator resume is the only caller.
func Reset() State {
	return State{ContractVersion: ContractVersion}
}

// FromMap builds a canonical State from a possibly-missing or legacy-shaped
// record. Safe on nil input; pure and idempotent through Normalize.
func FromMap(raw map[string]any) State {
	s := State{}
	if raw != nil {
		s.DegradeMode = ParseBool(raw["degrade_mode"])
		s.DegradeReason = coerceString(raw["degrade_reason"])
		s.IncidentCount = int(CoerceInt(raw["incident_count"]))
		s.CooldownUntilEpoch = CoerceInt(raw["cooldown_until_epoch"])
		s.LastErrorType = coerceString(raw["last_error_type"])
	}
	return s.Normalize()
}

// Map renders the canonical wire shape, the inverse of FromMap.
func (s State) Map() map[string]any {
	return map[string]any{
		"contract_version":     ContractVersion,
		"degrade_mode":         s.DegradeMode,
		"degrade_reason":       s.DegradeReason,
		"incident_count":       s.IncidentCount,
		"cooldown_until_epoch": s.CooldownUntilEpoch,
		"last_error_type":      s.LastErrorType,
	}
}

// NormalizeCircuit canonicalizes one legacy circuit record.
func NormalizeCircuit(raw map[string]any) Circuit {
	c := Circuit{State: CircuitUnknown}
	if raw != nil {
		c.State = ParseCircuitStatus(coerceString(raw["state"]))
		c.FailCount = int(CoerceInt(raw["fail_count"]))
		c.OpenUntilEpoch = CoerceInt(raw["open_until_epoch"])
		c.LastErrorType = coerceString(raw["last_error_type"])
	}
	if c.FailCount < 0 {
		c.FailCount = 0
	}
	if c.OpenUntilEpoch < 0 {
		c.OpenUntilEpoch = 0
	}
	return c
}

// NormalizeCircuits canonicalizes a keyed set of circuit records.
func NormalizeCircuits(raw map[string]any) map[string]Circuit {
	out := make(map[string]Circuit, len(raw))
	for name, v := range raw {
		m, _ := v.(map[string]any)
		out[name] = NormalizeCircuit(m)
	}
	return out
}
