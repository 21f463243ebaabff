package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/chw/followup/internal/domain/followup"
)

// Bundle is one snapshot of both upstream feeds plus the allowlist.
type Bundle struct {
	Registrations []followup.RegistrationSubmission `json:"registrations"`
	Completions   []followup.CompletionEvent        `json:"completions"`
	ActiveWorkers []string                          `json:"active_workers"`
}

// Input turns the bundle into engine input. A zero ref lets the engine pick
// today.
func (b *Bundle) Input(ref time.Time) followup.Input {
	return followup.Input{
		Registrations: b.Registrations,
		Completions:   b.Completions,
		ActiveWorkers: b.ActiveWorkers,
		ReferenceDate: ref,
	}
}

// Source loads a feed snapshot.
type Source interface {
	Load(ctx context.Context) (*Bundle, error)
}

// FileSource reads the feeds from local JSON or NDJSON files. An empty
// ActiveWorkersPath means no allowlist.
type FileSource struct {
	RegistrationsPath string
	CompletionsPath   string
	ActiveWorkersPath string
	Logger            zerolog.Logger
}

func (s *FileSource) Load(ctx context.Context) (*Bundle, error) {
	if s.RegistrationsPath == "" || s.CompletionsPath == "" {
		return nil, fmt.Errorf("file source needs both a registrations and a completions path")
	}

	b := &Bundle{}
	err := readFile(s.RegistrationsPath, func(r io.Reader) error {
		regs, skipped, err := DecodeRegistrations(r)
		s.logSkipped(s.RegistrationsPath, skipped)
		b.Registrations = regs
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = readFile(s.CompletionsPath, func(r io.Reader) error {
		events, skipped, err := DecodeCompletions(r)
		s.logSkipped(s.CompletionsPath, skipped)
		b.Completions = events
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.ActiveWorkersPath != "" {
		err = readFile(s.ActiveWorkersPath, func(r io.Reader) error {
			workers, err := DecodeActiveWorkers(r)
			b.ActiveWorkers = workers
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	s.Logger.Debug().
		Int("registrations", len(b.Registrations)).
		Int("completions", len(b.Completions)).
		Int("active_workers", len(b.ActiveWorkers)).
		Msg("feeds loaded from files")
	return b, nil
}

func (s *FileSource) logSkipped(path string, skipped Skipped) {
	if skipped.Count() == 0 {
		return
	}
	s.Logger.Warn().
		Str("file", path).
		Ints("lines", skipped.Lines).
		Msg("skipped undecodable feed records")
}

func readFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open feed %s: %w", path, err)
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// StaticSource serves a fixed bundle.
type StaticSource struct {
	Bundle *Bundle
}

func (s StaticSource) Load(context.Context) (*Bundle, error) {
	if s.Bundle == nil {
		return &Bundle{}, nil
	}
	return s.Bundle, nil
}
