package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
)

const checkOK = "ok"

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

// Report is the payload served by the health endpoint.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

// Service encapsulates health-related checks.
type Service struct {
	checks map[string]Checker
}

// NewService constructs a new health service.
func NewService() *Service {
	return &Service{checks: map[string]Checker{}}
}

// Register adds a named check. A later registration with the same name replaces the earlier one.
func (s *Service) Register(name string, check Checker) *Service {
	s.checks[name] = check
	return s
}

// Status runs every check and returns the combined report.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true, Checks: make(map[string]string, len(s.checks))}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			report.OK = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = checkOK
	}
	return report
}

// FileReadable checks that path names a regular file the process can open.
func FileReadable(path string) Checker {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s not found", path)
			}
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		return f.Close()
	}
}

// Available adapts an availability probe such as a compiler lookup.
func Available(probe interface{ Available() error }) Checker {
	return func(ctx context.Context) error {
		if probe == nil {
			return errors.New("not configured")
		}
		return probe.Available()
	}
}

// Ping adapts a database-style PingContext.
func Ping(pinger interface {
	PingContext(ctx context.Context) error
}) Checker {
	return func(ctx context.Context) error {
		return pinger.PingContext(ctx)
	}
}
