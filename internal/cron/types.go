package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// InternalPrefix marks payload messages handled by the bot itself instead of
// being sent to the model.
const InternalPrefix = "__internal:"

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

func (s Schedule) String() string {
	switch s.Kind {
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	default:
		return s.Expr
	}
}

type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

func (p Payload) Internal() bool {
	return strings.HasPrefix(p.Message, InternalPrefix)
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// ParseSchedule reads the CLI schedule forms: "every <duration>",
// "at <RFC3339 time>", or a cron expression with seconds ("0 0 9 * * *",
// "@every 1h", "@daily").
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Schedule{}, fmt.Errorf("empty schedule")
	case strings.HasPrefix(s, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(s, "every ")))
		if err != nil {
			return Schedule{}, fmt.Errorf("parse interval: %w", err)
		}
		if d < time.Second {
			return Schedule{}, fmt.Errorf("interval %s is shorter than one second", d)
		}
		return Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()}, nil
	case strings.HasPrefix(s, "at "):
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(s, "at ")))
		if err != nil {
			return Schedule{}, fmt.Errorf("parse time: %w", err)
		}
		return Schedule{Kind: KindAt, AtMs: t.UnixMilli()}, nil
	default:
		if _, err := parser.Parse(s); err != nil {
			return Schedule{}, fmt.Errorf("parse cron expression %q: %w", s, err)
		}
		return Schedule{Kind: KindCron, Expr: s}, nil
	}
}
