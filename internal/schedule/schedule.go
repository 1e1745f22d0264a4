// Package schedule decides whether a scheduled check is due, given a
// four-field cron-like expression and the time of the last executed run.
//
// The expression has the fields "minute hour day-of-month month". Each field
// is "*", "*/<step>" or a single value. Evaluation floors every unit of the
// current time to the field's rule and runs when that boundary is later than
// the last run.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSpec is returned for expressions that cannot be parsed.
var ErrInvalidSpec = errors.New("invalid cron spec")

var aliases = map[string]string{
	"@hourly":   "0 * * *",
	"@daily":    "0 0 * *",
	"@midnight": "0 0 * *",
	"@monthly":  "0 0 1 *",
	"@annually": "0 0 1 1",
	"@yearly":   "0 0 1 1",
}

// Kind is the rule a field applies to its time unit.
type Kind int

const (
	Wildcard Kind = iota
	Exact
	Step
)

// Field is one parsed schedule field.
type Field struct {
	Kind  Kind
	Value int
}

// Floor applies the field rule to the current unit value.
func (f Field) Floor(v int) int {
	switch f.Kind {
	case Exact:
		return f.Value
	case Step:
		return v - v%f.Value
	default:
		return v
	}
}

func (f Field) String() string {
	switch f.Kind {
	case Exact:
		return strconv.Itoa(f.Value)
	case Step:
		return "*/" + strconv.Itoa(f.Value)
	default:
		return "*"
	}
}

// Spec is a parsed schedule. The zero value is not valid; use Parse.
type Spec struct {
	Minute Field
	Hour   Field
	Day    Field
	Month  Field
}

type fieldRange struct {
	name     string
	min, max int
}

var ranges = [4]fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
}

// Parse parses a four-field expression or one of the named aliases.
func Parse(expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if canonical, ok := aliases[expr]; ok {
		expr = canonical
	}

	parts := strings.Fields(expr)
	if len(parts) != 4 {
		return Spec{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrInvalidSpec, len(parts))
	}

	var fields [4]Field
	for i, part := range parts {
		f, err := parseField(part, ranges[i])
		if err != nil {
			return Spec{}, err
		}
		fields[i] = f
	}

	return Spec{Minute: fields[0], Hour: fields[1], Day: fields[2], Month: fields[3]}, nil
}

func parseField(s string, r fieldRange) (Field, error) {
	if s == "*" {
		return Field{Kind: Wildcard}, nil
	}

	if stepStr, ok := strings.CutPrefix(s, "*/"); ok {
		step, err := strconv.Atoi(stepStr)
		if err != nil {
			return Field{}, fmt.Errorf("%w: %s step %q is not a number", ErrInvalidSpec, r.name, stepStr)
		}
		if step <= 0 {
			return Field{}, fmt.Errorf("%w: %s step must be positive, got %d", ErrInvalidSpec, r.name, step)
		}
		return Field{Kind: Step, Value: step}, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return Field{}, fmt.Errorf("%w: %s value %q is not a number", ErrInvalidSpec, r.name, s)
	}
	if v < r.min || v > r.max {
		return Field{}, fmt.Errorf("%w: %s value %d out of range [%d, %d]", ErrInvalidSpec, r.name, v, r.min, r.max)
	}
	return Field{Kind: Exact, Value: v}, nil
}

// String returns the canonical four-field form.
func (s Spec) String() string {
	return strings.Join([]string{s.Minute.String(), s.Hour.String(), s.Day.String(), s.Month.String()}, " ")
}

// ShouldRun reports whether a run is due: the most recent boundary at or
// before now is strictly later than lastRun.
func (s Spec) ShouldRun(lastRun, now time.Time) bool {
	return s.Boundary(now).After(lastRun)
}

// ShouldRun parses expr and evaluates it.
func ShouldRun(expr string, lastRun, now time.Time) (bool, error) {
	spec, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return spec.ShouldRun(lastRun, now), nil
}

// Boundary returns the start of the most recent period boundary no later
// than now, in now's location.
func (s Spec) Boundary(now time.Time) time.Time {
	now = now.Truncate(time.Second)
	t := now
	// Each retry moves t to just before the start of an enclosing unit, so the
	// loop ends within a few calendar years even for sparse specs.
	for i := 0; i < 64; i++ {
		c := s.floor(t)
		if !c.After(now) {
			return c
		}
		t = startOfEnclosing(c, t).Add(-time.Second)
	}
	return s.floor(t)
}

// floor assembles the floored units of t. Day values are clamped to the
// calendar so that step or exact days never spill into the next month.
func (s Spec) floor(t time.Time) time.Time {
	month := clamp(s.Month.Floor(int(t.Month())), 1, 12)
	day := s.Day.Floor(t.Day())
	hour := s.Hour.Floor(t.Hour())
	minute := s.Minute.Floor(t.Minute())

	day = clamp(day, 1, daysIn(t.Year(), time.Month(month), t.Location()))

	return time.Date(t.Year(), time.Month(month), day, hour, minute, 0, 0, t.Location())
}

// startOfEnclosing returns the start of the unit that encloses the most
// significant field where candidate c is ahead of t.
func startOfEnclosing(c, t time.Time) time.Time {
	loc := t.Location()
	switch {
	case c.Month() != t.Month():
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	case c.Day() != t.Day():
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case c.Hour() != t.Hour():
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	}
}

// NextBoundary returns the first matching time after now according to the
// equivalent standard cron expression. It is informational; ShouldRun does
// not depend on it.
func (s Spec) NextBoundary(now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(s.cronExpr())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return sched.Next(now), nil
}

func (s Spec) cronExpr() string {
	fields := [4]Field{s.Minute, s.Hour, s.Day, s.Month}
	parts := make([]string, 0, 5)
	for i, f := range fields {
		parts = append(parts, cronField(f, ranges[i]))
	}
	return strings.Join(append(parts, "*"), " ")
}

// cronField renders a step as the explicit list of values the floor rule can
// produce, since cron steps count from the start of the range instead.
func cronField(f Field, r fieldRange) string {
	if f.Kind != Step {
		return f.String()
	}
	var values []string
	if r.min > 0 {
		values = append(values, strconv.Itoa(r.min))
	}
	for v := 0; v <= r.max; v += f.Value {
		if v >= r.min && !(r.min > 0 && v == r.min) {
			values = append(values, strconv.Itoa(v))
		}
	}
	return strings.Join(values, ",")
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
