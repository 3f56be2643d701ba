package chat

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

const (
	DefaultTopK = 3
	MinTopK     = 1
	MaxTopK     = 20

	DefaultTemperature = 1.0
	MinTemperature     = 0.0
	MaxTemperature     = 2.0

	DefaultHistoryLimit = 10
	MinHistoryLimit     = 1
	MaxHistoryLimit     = 50
)

// Params are the generation settings sent with every turn.
type Params struct {
	TopK         int     `json:"rag_top_k"`
	Temperature  float64 `json:"temperature"`
	HistoryLimit int     `json:"message_history_limit"`
}

func DefaultParams() Params {
	return Params{
		TopK:         DefaultTopK,
		Temperature:  DefaultTemperature,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// Resolve applies raw user input on top of p. Each value is clamped to its
// range; values that are missing or not numeric keep p's current field.
func (p Params) Resolve(topK, temperature, historyLimit any) Params {
	return Params{
		TopK:         ResolveInt(topK, p.TopK, MinTopK, MaxTopK),
		Temperature:  ResolveFloat(temperature, p.Temperature, MinTemperature, MaxTemperature, 1),
		HistoryLimit: ResolveInt(historyLimit, p.HistoryLimit, MinHistoryLimit, MaxHistoryLimit),
	}
}

// Normalize clamps every field, replacing invalid ones with the defaults.
func (p Params) Normalize() Params {
	return DefaultParams().Resolve(p.TopK, p.Temperature, p.HistoryLimit)
}

// ResolveInt parses v as an integer clamped to [lo, hi]. Fractions are
// truncated. Anything that does not parse yields fallback, itself clamped.
func ResolveInt(v any, fallback, lo, hi int) int {
	f, ok := toFloat(v)
	if !ok {
		return clampInt(fallback, lo, hi)
	}
	return clampInt(int(math.Trunc(math.Max(math.Min(f, math.MaxInt32), math.MinInt32))), lo, hi)
}

// ResolveFloat parses v as a number clamped to [lo, hi] and rounded to the
// given number of decimals.
func ResolveFloat(v any, fallback, lo, hi float64, decimals int) float64 {
	f, ok := toFloat(v)
	if !ok {
		f = fallback
	}
	f = math.Min(math.Max(f, lo), hi)
	scale := math.Pow(10, float64(decimals))
	return math.Round(f*scale) / scale
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot is the last-synchronized configuration of the open session.
type Snapshot struct {
	SystemMessage string `json:"system_message"`
	Params
}

// SnapshotFromChat builds a snapshot from the server's view of a chat,
// defaulting and clamping each numeric setting.
func SnapshotFromChat(c *ragapi.Chat) Snapshot {
	d := DefaultParams()
	return Snapshot{
		SystemMessage: c.SystemMessage,
		Params:        d.Resolve(c.RAGTopK, c.Temperature, c.MessageHistoryLimit),
	}
}
