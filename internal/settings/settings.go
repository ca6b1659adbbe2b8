// Package settings defines the versioned task configuration value and
// its wire form. Workers parse settings at start and on every poll;
// a payload that no longer parses means a newer definition has taken
// over the task, so parse failures are surfaced as errors rather than
// handled here.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sosodev/duration"
)

// Version1 is the only settings version this build understands.
const Version1 = "v1"

var ErrUnknownVersion = errors.New("unknown settings version")

// wire is the serialized V1 form. Durations are ISO-8601 (e.g. "PT30S").
type wire struct {
	Version              string `json:"version"`
	Cadence              string `json:"cadence,omitempty"`
	CronExpr             string `json:"cronExpr,omitempty"`
	InitialDelayDuration string `json:"initialDelayDuration,omitempty"`
}

// Schema is the parsed, validated form of a task's settings. Exactly
// one of Cadence and CronSchedule is set.
type Schema struct {
	Cadence      time.Duration
	CronSchedule cron.Schedule
	InitialDelay time.Duration
}

// Parse decodes and validates a serialized settings value.
func Parse(raw []byte) (Schema, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Schema{}, fmt.Errorf("decode settings: %w", err)
	}
	if w.Version != Version1 {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownVersion, w.Version)
	}

	var s Schema
	switch {
	case w.Cadence != "" && w.CronExpr != "":
		return Schema{}, errors.New("cadence and cronExpr are mutually exclusive")
	case w.Cadence != "":
		d, err := parseISODuration("cadence", w.Cadence)
		if err != nil {
			return Schema{}, err
		}
		if d <= 0 {
			return Schema{}, fmt.Errorf("cadence must be > 0, got %q", w.Cadence)
		}
		s.Cadence = d
	case w.CronExpr != "":
		sched, err := cron.ParseStandard(w.CronExpr)
		if err != nil {
			return Schema{}, fmt.Errorf("cronExpr: %w", err)
		}
		s.CronSchedule = sched
	default:
		return Schema{}, errors.New("one of cadence or cronExpr is required")
	}

	if w.InitialDelayDuration != "" {
		d, err := parseISODuration("initialDelayDuration", w.InitialDelayDuration)
		if err != nil {
			return Schema{}, err
		}
		s.InitialDelay = d
	}
	return s, nil
}

// FirstRun computes when a newly created task first becomes eligible.
func (s Schema) FirstRun(now time.Time) time.Time {
	return now.Add(s.InitialDelay)
}

// NextRun computes the next eligibility instant after a run completes.
func (s Schema) NextRun(completedAt time.Time) time.Time {
	if s.CronSchedule != nil {
		return s.CronSchedule.Next(completedAt)
	}
	return completedAt.Add(s.Cadence)
}

func parseISODuration(field, raw string) (time.Duration, error) {
	d, err := duration.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid ISO-8601 duration %q: %w", field, raw, err)
	}
	td := d.ToTimeDuration()
	if td < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", field, raw)
	}
	return td, nil
}
