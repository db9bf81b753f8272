package pgctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

// Status is the state of the engine's service unit.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Service drives the engine's systemd unit.
type Service struct {
	host remote.Host
	unit string
}

func NewService(host remote.Host, unit string) *Service {
	return &Service{host: host, unit: unit}
}

func (s *Service) Unit() string { return s.unit }

func (s *Service) Start(ctx context.Context) error {
	if _, err := s.host.Run(ctx, "systemctl", "start", s.unit); err != nil {
		return fmt.Errorf("starting %s: %w", s.unit, err)
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if _, err := s.host.Run(ctx, "systemctl", "stop", s.unit); err != nil {
		return fmt.Errorf("stopping %s: %w", s.unit, err)
	}
	return nil
}

func (s *Service) Restart(ctx context.Context) error {
	if _, err := s.host.Run(ctx, "systemctl", "restart", s.unit); err != nil {
		return fmt.Errorf("restarting %s: %w", s.unit, err)
	}
	return nil
}

// Status maps `systemctl is-active` to a Status. Exit code 3 is systemd's
// "not running" answer; anything else non-zero is reported as unknown.
func (s *Service) Status(ctx context.Context) (Status, error) {
	out, err := s.host.Run(ctx, "systemctl", "is-active", s.unit)
	state := strings.TrimSpace(string(out))
	if err == nil {
		if state == "active" || state == "reloading" {
			return StatusRunning, nil
		}
		return StatusUnknown, fmt.Errorf("%w: %s is %q", ErrUnknownStatus, s.unit, state)
	}
	if remote.ExitCode(err) == 3 {
		return StatusStopped, nil
	}
	return StatusUnknown, fmt.Errorf("%w: %w", ErrUnknownStatus, err)
}

// Running is Status collapsed to a bool; unknown counts as not running.
func (s *Service) Running(ctx context.Context) (bool, error) {
	st, err := s.Status(ctx)
	return st == StatusRunning, err
}
