// Package guidance implements the silent-monitor tool-call sub-protocol: the
// background agent never speaks, it invokes a declared function whose
// arguments describe how the conversation is going. This package parses that
// loosely-typed payload into a closed signal model, dispatches it to the
// application, and guarantees exactly one correlated acknowledgement per
// received call.
package guidance

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Level is the discrete attention level of a guidance signal.
type Level string

const (
	// LevelNone means no signal: nothing noteworthy, or a payload that could
	// not be interpreted (the parse fails soft, never hard).
	LevelNone Level = "none"

	LevelInfo    Level = "info"
	LevelCaution Level = "caution"
	LevelAlert   Level = "alert"
)

// IsValid reports whether l is a recognised level.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelInfo, LevelCaution, LevelAlert:
		return true
	}
	return false
}

// Trend is the risk-trend tag of a guidance signal.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendSteady    Trend = "steady"
	TrendWorsening Trend = "worsening"
)

// IsValid reports whether t is a recognised trend.
func (t Trend) IsValid() bool {
	switch t {
	case TrendImproving, TrendSteady, TrendWorsening:
		return true
	}
	return false
}

// Signal is the parsed, closed form of one monitor tool call.
type Signal struct {
	// Level is the attention level. LevelNone when absent or unparseable.
	Level Level

	// Reason is the model's free-text justification.
	Reason string

	// Hint is an optional short coaching hint for the user.
	Hint string

	// Action is an optional suggested next action.
	Action string

	// Confidence in [0, 1]; zero when not reported.
	Confidence float64

	// Trend is the risk trend. TrendSteady when absent or unparseable.
	Trend Trend
}

// ToolName is the function name declared to the model for guidance signals.
const ToolName = "report_guidance"

// ToolDeclaration returns the function declaration offered to the model in
// silent-monitor mode, as a JSON-schema parameter object.
func ToolDeclaration() (name, description string, parameters map[string]any) {
	return ToolName,
		"Report a guidance signal about the monitored conversation. Call this instead of speaking.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"level": map[string]any{
					"type": "string",
					"enum": []string{string(LevelNone), string(LevelInfo), string(LevelCaution), string(LevelAlert)},
				},
				"reason":     map[string]any{"type": "string"},
				"hint":       map[string]any{"type": "string"},
				"action":     map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number"},
				"trend": map[string]any{
					"type": "string",
					"enum": []string{string(TrendImproving), string(TrendSteady), string(TrendWorsening)},
				},
			},
			"required": []string{"level", "reason"},
		}
}

// fuzzyThreshold is the minimum Jaro-Winkler similarity for accepting a
// near-miss enum string from the model.
const fuzzyThreshold = 0.85

// ParseSignal interprets the loosely-typed tool-call arguments best-effort.
// The remote agent's output is not contractually guaranteed: unknown shapes
// degrade to a no-signal result rather than erroring, and enum strings that
// are close misses ("cauton", "worsning") are recovered by Jaro-Winkler
// similarity against the closed value sets.
func ParseSignal(args map[string]any) Signal {
	sig := Signal{Level: LevelNone, Trend: TrendSteady}
	if args == nil {
		return sig
	}

	if v, ok := stringArg(args, "level"); ok {
		if lvl := Level(matchEnum(v, levelValues)); lvl.IsValid() {
			sig.Level = lvl
		}
	}
	if v, ok := stringArg(args, "trend"); ok {
		if tr := Trend(matchEnum(v, trendValues)); tr.IsValid() {
			sig.Trend = tr
		}
	}
	sig.Reason, _ = stringArg(args, "reason")
	sig.Hint, _ = stringArg(args, "hint")
	sig.Action, _ = stringArg(args, "action")

	if v, ok := args["confidence"].(float64); ok && v >= 0 && v <= 1 {
		sig.Confidence = v
	}
	return sig
}

var (
	levelValues = []string{string(LevelNone), string(LevelInfo), string(LevelCaution), string(LevelAlert)}
	trendValues = []string{string(TrendImproving), string(TrendSteady), string(TrendWorsening)}
)

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// matchEnum returns the candidate equal to v (case-insensitive), or the
// highest-scoring candidate above the fuzzy threshold, or "".
func matchEnum(v string, candidates []string) string {
	v = strings.ToLower(v)
	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		if v == c {
			return c
		}
		score := matchr.JaroWinkler(v, c, true)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= fuzzyThreshold {
		return best
	}
	return ""
}
