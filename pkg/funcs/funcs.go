// Package funcs implements the registry of pure compute functions available
// to card template expressions: list aggregation, date formatting, relative
// day arithmetic, and currency display.
//
// Functions receive already-evaluated argument values; path resolution happens
// before dispatch. The registry is immutable after construction and safe for
// concurrent use.
package funcs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	timefmt "github.com/itchyny/timefmt-go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/goliatone/go-cardgen/pkg/pathexpr"
)

// Func is a pure compute function. Implementations must not retain args.
type Func func(args []any) (any, error)

// Option customises registry construction.
type Option func(*Registry)

// WithNow overrides the clock used by the relative-day functions. Tests use
// this to pin "today".
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry maps function names to implementations. The built-in set is
// registered by NewRegistry.
type Registry struct {
	funcs   map[string]Func
	now     func() time.Time
	printer *message.Printer
}

// NewRegistry builds a registry with the built-in functions registered.
func NewRegistry(options ...Option) *Registry {
	r := &Registry{
		funcs:   make(map[string]Func),
		now:     time.Now,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}

	r.funcs["len"] = r.lenFunc
	r.funcs["sum"] = r.sumFunc
	r.funcs["format_date"] = r.formatDate
	r.funcs["days_from_now"] = r.daysFromNow
	r.funcs["days_after"] = r.daysAfter
	r.funcs["currency"] = r.currency
	r.funcs["format_currency"] = r.currency
	return r
}

// Register adds or replaces a named function. Call it before the registry is
// shared across renders; the map is not guarded.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Has reports whether a function name is registered. Configuration validation
// uses this to reject unknown names before any render runs.
func (r *Registry) Has(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

// Call dispatches to the named function.
func (r *Registry) Call(name string, args []any) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("funcs: unknown function %q", name)
	}
	return fn(args)
}

func (r *Registry) lenFunc(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("funcs: len expects 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("funcs: len: argument is not a list")
	}
	return len(list), nil
}

// sumFunc totals the numeric elements of a list. Strings carrying currency
// decoration ("$1,200.50") are parsed as amounts; elements that cannot be
// read as numbers are skipped.
func (r *Registry) sumFunc(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("funcs: sum expects 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("funcs: sum: argument is not a list")
	}
	total := 0.0
	for _, item := range list {
		if value, ok := toNumber(item); ok {
			total += value
		}
	}
	return total, nil
}

func (r *Registry) formatDate(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("funcs: format_date expects 2 arguments, got %d", len(args))
	}
	t, err := parseDate(args[0])
	if err != nil {
		return nil, fmt.Errorf("funcs: format_date: %w", err)
	}
	format, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("funcs: format_date: format must be a string")
	}
	return timefmt.Format(t, format), nil
}

func (r *Registry) daysFromNow(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("funcs: days_from_now expects 1 argument, got %d", len(args))
	}
	t, err := parseDate(args[0])
	if err != nil {
		return nil, fmt.Errorf("funcs: days_from_now: %w", err)
	}
	delta := r.dayDelta(t)
	switch {
	case delta == 0:
		return "today", nil
	case delta == 1:
		return "tomorrow", nil
	case delta == -1:
		return "yesterday", nil
	case delta > 0:
		return fmt.Sprintf("%d days from now", delta), nil
	default:
		return fmt.Sprintf("%d days ago", -delta), nil
	}
}

// daysAfter returns how many days have passed since the given date: positive
// when the date is in the past, negative in the future, zero today.
func (r *Registry) daysAfter(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("funcs: days_after expects 1 argument, got %d", len(args))
	}
	t, err := parseDate(args[0])
	if err != nil {
		return nil, fmt.Errorf("funcs: days_after: %w", err)
	}
	return -r.dayDelta(t), nil
}

// dayDelta compares calendar days in the parsed date's location so documents
// carrying timezone offsets behave the same everywhere.
func (r *Registry) dayDelta(t time.Time) int {
	today := startOfDay(r.now().In(t.Location()))
	date := startOfDay(t)
	return int(math.Round(date.Sub(today).Hours() / 24))
}

// currency renders a numeric value as "$" + grouped integer part + exactly
// two decimals. Rounding is half away from zero on the cent value:
// currency(1089.996) == "$1,090.00".
func (r *Registry) currency(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("funcs: currency expects 1 argument, got %d", len(args))
	}
	value, ok := toNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("funcs: currency: argument is not numeric")
	}
	rounded := math.Round(value*100) / 100
	return r.printer.Sprintf("$%.2f", rounded), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func parseDate(v any) (time.Time, error) {
	if pathexpr.IsAbsent(v) || v == nil {
		return time.Time{}, fmt.Errorf("date value is absent")
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("date value %v is not a string", v)
	}
	t, err := dateparse.ParseAny(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable date %q", s)
	}
	return t, nil
}

// toNumber reads ints, floats, and decorated numeric strings.
func toNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(value, "$", ""), ",", ""))
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
