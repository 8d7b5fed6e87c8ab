package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions restricts auditing to actions. Repeated calls widen
// the set. Without it every action is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.filter.only == nil {
			e.filter.only = make(map[string]struct{}, len(actions))
		}
		for _, a := range actions {
			e.filter.only[a] = struct{}{}
		}
	}
}

// WithDisabledActions skips actions. It takes precedence over
// WithEnabledActions whatever the option order.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.filter.skip == nil {
			e.filter.skip = make(map[string]struct{}, len(actions))
		}
		for _, a := range actions {
			e.filter.skip[a] = struct{}{}
		}
	}
}

// WithMinSeverity drops events below level, e.g. SeverityWarning keeps
// limit and denial events but not routine usage. Unknown levels are ignored.
func WithMinSeverity(level string) Option {
	return func(e *Extension) {
		if rank, ok := severityRank[level]; ok {
			e.filter.minRank = rank
		}
	}
}

var severityRank = map[string]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// filter decides which events reach the recorder.
type filter struct {
	only    map[string]struct{} // nil = every action
	skip    map[string]struct{}
	minRank int
}

func (f filter) allows(action, severity string) bool {
	if _, ok := f.skip[action]; ok {
		return false
	}
	if f.only != nil {
		if _, ok := f.only[action]; !ok {
			return false
		}
	}
	return severityRank[severity] >= f.minRank
}
