package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/commander/internal/pipeline"
)

// Runtime holds the process-level defaults the commander mirrors when per-run
// policy fields are absent. Built once at startup; never read deep inside
// business logic.
type Runtime struct {
	Mode                 string   `yaml:"mode"` // graph_spine | decision_packet | integrated_chain
	AllowDecisionPacket  bool     `yaml:"allow_decision_packet"`
	IncidentThreshold    int      `yaml:"incident_threshold"`
	CooldownSec          int64    `yaml:"cooldown_sec"`
	ExecutionMode        string   `yaml:"execution_mode"` // mock | real
	SymbolAllowlist      []string `yaml:"symbol_allowlist"`
	MaxOrderNotional     float64  `yaml:"max_order_notional"`
	DegradeNotionalRatio float64  `yaml:"degrade_notional_ratio"`
	EventLogPath         string   `yaml:"event_log_path"`
	ResilienceStatePath  string   `yaml:"resilience_state_path"`
	SkillRatePerMinute   int      `yaml:"skill_rate_per_minute"`
}

// Root is the full config file shape.
type Root struct {
	Runtime Runtime         `yaml:"runtime"`
	Policy  pipeline.Policy `yaml:"policy"`
}

// Load reads the yaml config, layering environment values under anything the
// file leaves unset.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.Runtime = c.Runtime.withEnvFallback(FromEnv())
	return c, nil
}

// FromEnv collects the environment-level defaults. Unparsable values normalize
// to zero rather than failing; partial misconfiguration must not stop runs.
func FromEnv() Runtime {
	return Runtime{
		Mode:                 os.Getenv("COMMANDER_RUNTIME_MODE"),
		AllowDecisionPacket:  envBool("COMMANDER_ALLOW_DECISION_PACKET"),
		IncidentThreshold:    int(envInt("COMMANDER_INCIDENT_THRESHOLD")),
		CooldownSec:          envInt("COMMANDER_COOLDOWN_SEC"),
		ExecutionMode:        os.Getenv("COMMANDER_EXECUTION_MODE"),
		SymbolAllowlist:      SplitList(os.Getenv("COMMANDER_SYMBOL_ALLOWLIST")),
		MaxOrderNotional:     envFloat("COMMANDER_MAX_ORDER_NOTIONAL"),
		DegradeNotionalRatio: envFloat("COMMANDER_DEGRADE_NOTIONAL_RATIO"),
		EventLogPath:         os.Getenv("COMMANDER_EVENT_LOG_PATH"),
		ResilienceStatePath:  os.Getenv("COMMANDER_RESILIENCE_STATE_PATH"),
		SkillRatePerMinute:   int(envInt("COMMANDER_SKILL_RATE_PER_MINUTE")),
	}
}

func (r Runtime) withEnvFallback(env Runtime) Runtime {
	if r.Mode == "" {
		r.Mode = env.Mode
	}
	if !r.AllowDecisionPacket {
		r.AllowDecisionPacket = env.AllowDecisionPacket
	}
	if r.IncidentThreshold == 0 {
		r.IncidentThreshold = env.IncidentThreshold
	}
	if r.CooldownSec == 0 {
		r.CooldownSec = env.CooldownSec
	}
	if r.ExecutionMode == "" {
		r.ExecutionMode = env.ExecutionMode
	}
	if len(r.SymbolAllowlist) == 0 {
		r.SymbolAllowlist = env.SymbolAllowlist
	}
	if r.MaxOrderNotional == 0 {
		r.MaxOrderNotional = env.MaxOrderNotional
	}
	if r.DegradeNotionalRatio == 0 {
		r.DegradeNotionalRatio = env.DegradeNotionalRatio
	}
	if r.EventLogPath == "" {
		r.EventLogPath = env.EventLogPath
	}
	if r.ResilienceStatePath == "" {
		r.ResilienceStatePath = env.ResilienceStatePath
	}
	if r.SkillRatePerMinute == 0 {
		r.SkillRatePerMinute = env.SkillRatePerMinute
	}
	return r
}

// SplitList parses a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func envInt(key string) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
