package scoring

import (
	"fmt"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/telemetry"
)

// Breach is one SLA a score fails.
type Breach struct {
	SLA       string  `json:"sla"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

func (b Breach) String() string {
	return fmt.Sprintf("%s %.1f%% (needs > %.1f%%)", b.SLA, b.Observed*100, b.Threshold*100)
}

// EvaluateSLA lists the success-rate and coverage SLAs the score misses.
// Both are strict floors: a value equal to the threshold is a breach.
func EvaluateSLA(score models.QualityScore, sla config.SLAConfig) []Breach {
	var breaches []Breach
	if score.SuccessRate <= sla.SuccessRate {
		breaches = append(breaches, Breach{SLA: telemetry.SLASuccessRate, Observed: score.SuccessRate, Threshold: sla.SuccessRate})
	}
	if score.TestCoverage <= sla.TestCoverage {
		breaches = append(breaches, Breach{SLA: telemetry.SLATestCoverage, Observed: score.TestCoverage, Threshold: sla.TestCoverage})
	}
	for _, b := range breaches {
		telemetry.RecordSLABreach(b.SLA)
	}
	return breaches
}
