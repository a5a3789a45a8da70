package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"
)

const maxReasonLength = 2000

// Result is a normalized oracle answer. Marks is always in [0, maxPoints].
type Result struct {
	Verdict models.Verdict
	Marks   int
	Reason  string
}

type rawResult struct {
	Verdict string      `json:"verdict"`
	Marks   interface{} `json:"marks"`
	Reason  string      `json:"reason"`
}

// Normalize turns untrusted oracle text into a Result. The whole text is
// parsed as JSON first; failing that, the span from the first '{' to the last
// '}' is tried. Anything else is ErrUnparsable.
func Normalize(raw string, maxPoints int) (Result, error) {
	parsed, ok := parseObject(strings.TrimSpace(raw))
	if !ok {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			parsed, ok = parseObject(raw[start : end+1])
		}
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", apperrors.ErrUnparsable, truncate(raw, 200))
	}

	marks := ClampMarks(coerceMarks(parsed.Marks), maxPoints)

	return Result{
		Verdict: normalizeVerdict(parsed.Verdict, marks, maxPoints),
		Marks:   marks,
		Reason:  truncate(strings.TrimSpace(parsed.Reason), maxReasonLength),
	}, nil
}

func parseObject(text string) (rawResult, bool) {
	if !strings.HasPrefix(text, "{") {
		return rawResult{}, false
	}
	var parsed rawResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return rawResult{}, false
	}
	return parsed, true
}

// coerceMarks accepts JSON numbers and numeric strings. Missing or
// non-numeric values count as zero.
func coerceMarks(v interface{}) float64 {
	var f float64
	switch m := v.(type) {
	case float64:
		f = m
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Round(f)
}

// ClampMarks bounds marks to [0, maxPoints].
func ClampMarks(marks float64, maxPoints int) int {
	if maxPoints < 0 {
		maxPoints = 0
	}
	if math.IsNaN(marks) || marks <= 0 {
		return 0
	}
	if marks >= float64(maxPoints) {
		return maxPoints
	}
	return int(marks)
}

func normalizeVerdict(label string, marks, maxPoints int) models.Verdict {
	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, label)

	switch key {
	case "correct", "accepted", "right":
		return models.VerdictCorrect
	case "partiallycorrect", "partial", "partlycorrect", "partiallyaccepted":
		return models.VerdictPartiallyCorrect
	case "wrong", "incorrect", "rejected":
		return models.VerdictWrong
	}

	switch {
	case marks <= 0:
		return models.VerdictWrong
	case marks >= maxPoints:
		return models.VerdictCorrect
	default:
		return models.VerdictPartiallyCorrect
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
