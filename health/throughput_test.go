package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssessThroughput(t *testing.T) {
	tests := []struct {
		rate           float64
		want           ThroughputLevel
		recommendation bool
	}{
		{rate: 2500, want: ThroughputExcellent},
		{rate: 1000, want: ThroughputExcellent},
		{rate: 999.9, want: ThroughputGood},
		{rate: 500, want: ThroughputGood},
		{rate: 350, want: ThroughputAcceptable},
		{rate: 100, want: ThroughputAcceptable},
		{rate: 75, want: ThroughputPoor, recommendation: true},
		{rate: 50, want: ThroughputPoor, recommendation: true},
		{rate: 10, want: ThroughputCritical, recommendation: true},
		{rate: 0, want: ThroughputCritical, recommendation: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			got := AssessThroughput(tt.rate)
			assert.Equal(t, tt.want, got.Level)
			assert.Equal(t, tt.rate, got.RatePerSec)
			if tt.recommendation {
				assert.NotEmpty(t, got.Recommendation)
			} else {
				assert.Empty(t, got.Recommendation)
			}
		})
	}
}
