package scanner

// Status global de una corrida de scan.
const (
	StatusClean    = "CLEAN"
	StatusLowRisk  = "LOW_RISK"
	StatusReview   = "REVIEW"
	StatusCritical = "CRITICAL"
)

// Report resume una corrida: conteos por severidad y status global.
// Los hallazgos de una corrida reemplazan a los de la anterior, no se
// acumulan.
type Report struct {
	Findings   []Finding      `json:"findings"`
	BySeverity map[string]int `json:"by_severity"`
	Status     string         `json:"status"`
}

// Summarize clasifica una corrida completa.
func Summarize(findings []Finding) Report {
	r := Report{
		Findings:   findings,
		BySeverity: map[string]int{},
	}
	var hasCritical, hasHigh, hasAny bool
	for _, f := range findings {
		r.BySeverity[f.SeverityStr]++
		hasAny = true
		switch f.Severity {
		case CriticalSeverity:
			hasCritical = true
		case High:
			hasHigh = true
		}
	}
	switch {
	case hasCritical:
		r.Status = StatusCritical
	case hasHigh:
		r.Status = StatusReview
	case hasAny:
		r.Status = StatusLowRisk
	default:
		r.Status = StatusClean
	}
	return r
}

// Blocking reporta si la corrida debe frenar un deploy: cualquier hallazgo
// Critical o High falla cerrado.
func (r Report) Blocking() bool {
	return r.Status == StatusCritical || r.Status == StatusReview
}
