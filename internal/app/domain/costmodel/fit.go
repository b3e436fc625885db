package costmodel

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// outlierDeviations is the number of absolute deviations from the
// log-space median an observation may sit before it is trimmed.
const outlierDeviations = 3.0

// FitPowerLaw fits secs_per_candidate(d) = coeffA * (d/1000)^coeffB to the
// given observations by ordinary least squares in log space, after
// trimming outliers more than outlierDeviations absolute deviations from
// the log-space median. It requires at least two observations with
// distinct digit counts to produce a non-degenerate slope.
func FitPowerLaw(form string, observations []Observation, fittedAt time.Time) (Fit, error) {
	if len(observations) < 2 {
		return Fit{}, fmt.Errorf("at least 2 observations required, got %d", len(observations))
	}

	xs := make([]float64, 0, len(observations))
	ys := make([]float64, 0, len(observations))
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			continue
		}
		xs = append(xs, math.Log(float64(obs.Digits)/1000.0))
		ys = append(ys, math.Log(obs.Secs))
	}
	if len(xs) < 2 {
		return Fit{}, fmt.Errorf("at least 2 valid observations required, got %d", len(xs))
	}

	xs, ys = trimOutliers(xs, ys)
	if len(xs) < 2 {
		return Fit{}, fmt.Errorf("fewer than 2 observations remained after outlier trimming")
	}

	coeffB, logCoeffA := ordinaryLeastSquares(xs, ys)
	coeffA := math.Exp(logCoeffA)

	fit := Fit{
		Form:        form,
		CoeffA:      coeffA,
		CoeffB:      coeffB,
		SampleCount: len(xs),
		FittedAt:    fittedAt,
	}
	fit.AvgErrorPct = meanAbsolutePercentError(xs, ys, coeffA, coeffB)
	return fit, nil
}

func trimOutliers(xs, ys []float64) ([]float64, []float64) {
	sorted := append([]float64(nil), ys...)
	sort.Float64s(sorted)
	median := percentileSorted(sorted, 0.5)

	deviations := make([]float64, len(ys))
	for i, y := range ys {
		deviations[i] = math.Abs(y - median)
	}
	sortedDev := append([]float64(nil), deviations...)
	sort.Float64s(sortedDev)
	mad := percentileSorted(sortedDev, 0.5)
	if mad == 0 {
		return xs, ys
	}

	keptX := make([]float64, 0, len(xs))
	keptY := make([]float64, 0, len(ys))
	for i := range ys {
		if deviations[i]/mad <= outlierDeviations {
			keptX = append(keptX, xs[i])
			keptY = append(keptY, ys[i])
		}
	}
	return keptX, keptY
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// ordinaryLeastSquares fits y = slope*x + intercept and returns (slope,
// intercept).
func ordinaryLeastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func meanAbsolutePercentError(xs, ys []float64, coeffA, coeffB float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for i := range xs {
		predictedLog := math.Log(coeffA) + coeffB*xs[i]
		actual := math.Exp(ys[i])
		predicted := math.Exp(predictedLog)
		if actual == 0 {
			continue
		}
		total += math.Abs(predicted-actual) / actual
	}
	return (total / float64(len(xs))) * 100
}
