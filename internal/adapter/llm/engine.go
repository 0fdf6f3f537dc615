// Package llm adapts external text-completion engines to domain.Summarizer.
//
// Two engines exist: Llama spawns a llama.cpp command line binary for every
// call, Remote forwards to an engine server. Both allow a single call at a
// time and leave queueing to the caller.
package llm

import (
	"fmt"
	"log/slog"

	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
)

// New builds the engine selected by ec.Kind.
func New(ec config.EngineConfig, logger *slog.Logger) (domain.Summarizer, error) {
	switch ec.Kind {
	case config.EngineLlama:
		return NewLlama(ec, logger)
	case config.EngineHTTP:
		return NewRemote(ec)
	}
	return nil, fmt.Errorf("unknown engine kind %q", ec.Kind)
}
