package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/walletkit/sendflow/pkg/models"
)

// Config holds all configurable parameters for a send session.
type Config struct {
	// Fee tiers presented to the user, ordered fast to slow. The mutable
	// custom slot is appended by the session and is not listed here.
	FeeLevels []models.FeeLevel

	// Pause shown to the user after composition fails even at the
	// minimum fee, before account selection reopens.
	GraceDelay time.Duration

	// Discovery bounds.
	AddressesPerAccount uint32
	MaxAccounts         uint32

	// Buffer size of the prompt channel handed to the UI.
	PromptBuffer int

	// Optional upper bound for one whole session. Zero means no bound: the
	// session waits indefinitely for user input.
	ContextTimeout time.Duration
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		FeeLevels: []models.FeeLevel{
			{Name: "fast", SatPerByte: 40},
			{Name: "normal", SatPerByte: 12},
			{Name: "economy", SatPerByte: 4},
		},
		GraceDelay:          3 * time.Second,
		AddressesPerAccount: 20,
		MaxAccounts:         10,
		PromptBuffer:        8,
		ContextTimeout:      0,
	}
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset values.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("SENDFLOW_FEE_LEVELS"); v != "" {
		if levels := parseFeeLevels(v); len(levels) > 0 {
			cfg.FeeLevels = levels
		}
	}
	if v := os.Getenv("SENDFLOW_GRACE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GraceDelay = d
		}
	}
	if v := os.Getenv("SENDFLOW_ADDRESSES_PER_ACCOUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.AddressesPerAccount = uint32(n)
		}
	}
	if v := os.Getenv("SENDFLOW_MAX_ACCOUNTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.MaxAccounts = uint32(n)
		}
	}
	if v := os.Getenv("SENDFLOW_PROMPT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PromptBuffer = n
		}
	}
	if v := os.Getenv("SENDFLOW_CONTEXT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ContextTimeout = d
		}
	}

	return cfg
}

// parseFeeLevels parses "fast:40,normal:12,economy:4".
func parseFeeLevels(s string) []models.FeeLevel {
	var levels []models.FeeLevel
	for _, part := range strings.Split(s, ",") {
		name, rate, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(rate, 10, 64)
		if err != nil || n <= 0 {
			return nil
		}
		levels = append(levels, models.FeeLevel{Name: name, SatPerByte: n})
	}
	return levels
}
