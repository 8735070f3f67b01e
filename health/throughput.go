package health

// ThroughputLevel grades the pipeline's sustained ingest rate.
type ThroughputLevel string

// Throughput levels from best to worst.
const (
	ThroughputExcellent  ThroughputLevel = "EXCELLENT"
	ThroughputGood       ThroughputLevel = "GOOD"
	ThroughputAcceptable ThroughputLevel = "ACCEPTABLE"
	ThroughputPoor       ThroughputLevel = "POOR"
	ThroughputCritical   ThroughputLevel = "CRITICAL"
)

// Rate thresholds in records per second.
const (
	excellentRate  = 1000.0
	goodRate       = 500.0
	acceptableRate = 100.0
	poorRate       = 50.0
)

// ThroughputAssessment pairs a measured rate with its grade and, when
// the grade calls for action, a scaling recommendation.
type ThroughputAssessment struct {
	Level          ThroughputLevel `json:"level"`
	RatePerSec     float64         `json:"rate_per_sec"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// AssessThroughput grades a records-per-second rate against fixed
// thresholds. Rates below the acceptable band carry a recommendation.
func AssessThroughput(ratePerSec float64) ThroughputAssessment {
	assessment := ThroughputAssessment{RatePerSec: ratePerSec}

	switch {
	case ratePerSec >= excellentRate:
		assessment.Level = ThroughputExcellent
	case ratePerSec >= goodRate:
		assessment.Level = ThroughputGood
	case ratePerSec >= acceptableRate:
		assessment.Level = ThroughputAcceptable
	case ratePerSec >= poorRate:
		assessment.Level = ThroughputPoor
		assessment.Recommendation = "increase consumer worker count or add consumer instances"
	default:
		assessment.Level = ThroughputCritical
		assessment.Recommendation = "scale out consumers and check graph store latency"
	}

	return assessment
}
