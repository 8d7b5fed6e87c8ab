package limit

// Severity is the banding of a usage percentage.
type Severity string

const (
	SeverityNormal       Severity = "normal"
	SeverityWarning      Severity = "warning"
	SeverityCritical     Severity = "critical"
	SeverityLimitReached Severity = "limit_reached"
)

// Color is the display band of a usage percentage.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Thresholds are ordered highest first; the first match wins.
var severityBands = []struct {
	min      float64
	severity Severity
}{
	{100, SeverityLimitReached},
	{90, SeverityCritical},
	{70, SeverityWarning},
}

var colorBands = []struct {
	min   float64
	color Color
}{
	{90, ColorRed},
	{70, ColorYellow},
}

// IsExceeded reports whether used has reached the limit.
func IsExceeded(used int64, l Limit) bool {
	if l.IsUnlimited() {
		return false
	}
	return used >= l.n
}

// Remaining returns the quota left, or UnlimitedRemaining.
func Remaining(used int64, l Limit) int64 {
	if l.IsUnlimited() {
		return UnlimitedRemaining
	}
	return max(0, l.n-used)
}

// Percentage returns used as a share of the limit, clamped to [0, 100].
// The raw counter may exceed the limit; the percentage never does.
func Percentage(used int64, l Limit) float64 {
	if l.IsUnlimited() || used <= 0 {
		return 0
	}
	return min(100, float64(used)/float64(l.n)*100)
}

// CanPerform reports whether amount more units fit under the limit.
// It is a pre-check only; recording usage never consults it.
func CanPerform(used int64, l Limit, amount int64) bool {
	if l.IsUnlimited() {
		return true
	}
	return amount <= l.n-used
}

// SeverityOf bands a percentage.
func SeverityOf(pct float64) Severity {
	for _, b := range severityBands {
		if pct >= b.min {
			return b.severity
		}
	}
	return SeverityNormal
}

// ColorOf maps a percentage to its display color.
func ColorOf(pct float64) Color {
	for _, b := range colorBands {
		if pct >= b.min {
			return b.color
		}
	}
	return ColorGreen
}

// Evaluation is every derived value for one counter.
type Evaluation struct {
	Used       int64    `json:"used"`
	Limit      Limit    `json:"limit"`
	Unlimited  bool     `json:"unlimited"`
	Exceeded   bool     `json:"exceeded"`
	Remaining  int64    `json:"remaining"`
	Percentage float64  `json:"percentage"`
	Severity   Severity `json:"severity"`
	Color      Color    `json:"color"`
}

// Evaluate computes the full evaluation for used against l.
func Evaluate(used int64, l Limit) Evaluation {
	pct := Percentage(used, l)
	return Evaluation{
		Used:       used,
		Limit:      l,
		Unlimited:  l.IsUnlimited(),
		Exceeded:   IsExceeded(used, l),
		Remaining:  Remaining(used, l),
		Percentage: pct,
		Severity:   SeverityOf(pct),
		Color:      ColorOf(pct),
	}
}

// CanPerform reports whether amount more units fit.
func (e Evaluation) CanPerform(amount int64) bool {
	return CanPerform(e.Used, e.Limit, amount)
}
