package output

import "github.com/fatih/color"

// Palette holds the styles used by the console.
type Palette struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Phase   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Dim     *color.Color
	Latency *color.Color
}

// NewPalette returns the default palette with colors forced on or off.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.FgWhite),
		Value:   color.New(color.FgCyan),
		Phase:   color.New(color.FgMagenta, color.Bold),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed, color.Bold),
		Dim:     color.New(color.Faint),
		Latency: color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{p.Title, p.Rule, p.Label, p.Value, p.Phase, p.Good, p.Warn, p.Bad, p.Dim, p.Latency} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// ErrorRate picks a style for an error rate in percent.
func (p *Palette) ErrorRate(pct float64) *color.Color {
	switch {
	case pct > 5:
		return p.Bad
	case pct > 1:
		return p.Warn
	}
	return p.Good
}

// Verdict renders a pass/fail marker.
func (p *Palette) Verdict(passed bool) string {
	if passed {
		return p.Good.Sprint("✓")
	}
	return p.Bad.Sprint("✗")
}
