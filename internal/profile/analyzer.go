// Package profile regenerates per-user learning profiles from recent
// conversation history.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/metrics"
	"github.com/oarc/ollamateacher/internal/store"
)

// JobMessage is the cron payload that triggers a cycle.
const JobMessage = "__internal:profile:analyze"

const DefaultMaxMessages = 50

const analysisSystem = "You analyze a learner's chat messages for a teaching assistant. Reply with JSON only."

const analysisTemplate = `Analyze these user messages and extract key information:
%s

Please identify:
1. Main topics of interest
2. Technical skill level
3. Common questions or patterns
4. Learning progress
5. Key concepts discussed

Respond with a JSON object with these fields:
{"analysis": "concise bullet points covering the points above", "interests": ["topic", ...], "skill_level": "beginner|intermediate|advanced", "progress": "one or two sentences"}`

// Saver persists a regenerated profile.
type Saver interface {
	SaveProfile(key memory.Key, p store.Profile) error
}

type Options struct {
	MaxMessages int
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Analyzer struct {
	mem         *memory.Store
	gen         llm.Generator
	saver       Saver
	maxMessages int
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Result counts what one cycle did.
type Result struct {
	Pending int
	Updated int
	// Superseded users were reset while their analysis was running.
	Superseded int
	Failed     int
}

func New(mem *memory.Store, gen llm.Generator, saver Saver, opts Options) *Analyzer {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		mem:         mem,
		gen:         gen,
		saver:       saver,
		maxMessages: opts.MaxMessages,
		log:         opts.Logger.Named("profile"),
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// RunCycle analyzes every user with new activity. Failures for one user are
// logged and counted; only cancellation stops the cycle early.
func (a *Analyzer) RunCycle(ctx context.Context) (Result, error) {
	pending := a.mem.Pending()
	res := Result{Pending: len(pending)}

	for _, snap := range pending {
		if err := ctx.Err(); err != nil {
			a.metrics.RecordProfileCycle("canceled", res.Updated)
			return res, err
		}
		entries := snap.UserEntries(a.maxMessages)
		if len(entries) == 0 {
			continue
		}

		raw, err := a.gen.Generate(ctx, llm.Request{
			System: analysisSystem,
			Prompt: AnalysisPrompt(entries),
		})
		if err != nil {
			res.Failed++
			a.log.Warn("profile analysis failed", "user", snap.Key.String(), "error", err)
			continue
		}

		p := ParseAnalysis(raw)
		p.Username = snap.Username
		p.MessageCount = len(entries)
		p.Timestamp = a.now().UTC()

		committed, err := a.mem.Commit(snap, func() error {
			return a.saver.SaveProfile(snap.Key, p)
		})
		switch {
		case err != nil:
			res.Failed++
			a.log.Warn("profile save failed", "user", snap.Key.String(), "error", err)
		case !committed:
			res.Superseded++
			a.log.Debug("profile discarded after reset", "user", snap.Key.String())
		default:
			res.Updated++
		}
	}

	status := "ok"
	if res.Failed > 0 {
		status = "partial"
	}
	a.metrics.RecordProfileCycle(status, res.Updated)
	if res.Pending > 0 {
		a.log.Info("profile cycle finished", "pending", res.Pending, "updated", res.Updated,
			"superseded", res.Superseded, "failed", res.Failed)
	}
	return res, nil
}

func (r Result) String() string {
	return fmt.Sprintf("profiles: %d pending, %d updated, %d superseded, %d failed", r.Pending, r.Updated, r.Superseded, r.Failed)
}

func AnalysisPrompt(entries []memory.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Content)
	}
	return fmt.Sprintf(analysisTemplate, strings.Join(lines, "\n"))
}

type analysisJSON struct {
	Analysis   string   `json:"analysis"`
	Interests  []string `json:"interests"`
	SkillLevel string   `json:"skill_level"`
	Progress   string   `json:"progress"`
}

// ParseAnalysis reads the model's JSON answer. Anything that is not a JSON
// object with an analysis becomes the analysis text as-is.
func ParseAnalysis(raw string) store.Profile {
	raw = strings.TrimSpace(raw)
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		var parsed analysisJSON
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil && strings.TrimSpace(parsed.Analysis) != "" {
			p := store.Profile{
				Analysis:   strings.TrimSpace(parsed.Analysis),
				SkillLevel: strings.TrimSpace(parsed.SkillLevel),
				Progress:   strings.TrimSpace(parsed.Progress),
			}
			for _, in := range parsed.Interests {
				if in = strings.TrimSpace(in); in != "" {
					p.Interests = append(p.Interests, in)
				}
			}
			return p
		}
	}
	return store.Profile{Analysis: raw}
}
