package orchestrator

import "time"

// State is the coordinator's position in the round state machine.
type State string

const (
	StateAwaitingModel  State = "awaiting-model"
	StateParsingStream  State = "parsing-stream"
	StateExecutingTools State = "executing-tools"
	StateTerminal       State = "terminal"
)

// Config bounds a conversational round.
type Config struct {
	// MaxPhases caps the number of model exchanges per round. This is the
	// only defense against a model that requests tools indefinitely.
	MaxPhases int
	// ContextBudget is the unit ceiling for the conversation context sent
	// with each request.
	ContextBudget float64
	// SessionTTL is how long round history is kept in the session store.
	SessionTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPhases:     10,
		ContextBudget: 80000,
		SessionTTL:    30 * time.Minute,
	}
}

func (c Config) WithMaxPhases(n int) Config {
	c.MaxPhases = n
	return c
}

func (c Config) WithContextBudget(units float64) Config {
	c.ContextBudget = units
	return c
}

func (c Config) WithSessionTTL(ttl time.Duration) Config {
	c.SessionTTL = ttl
	return c
}
