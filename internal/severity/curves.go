package severity

import (
	"math"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

// Saturation curves. Each maps a non-negative measurement onto 0-100 in
// three bands (low, medium, high). Bands meet at their edges so every curve
// is continuous and non-decreasing.

func imageScore(p models.ClassProbabilities) float64 {
	return clamp(p.Low*20+p.Medium*60+p.High*100, 0, 100)
}

// rainfallScore bands: <50mm, <150mm, then +10 per 100mm up to 100.
func rainfallScore(mm float64) float64 {
	switch {
	case mm < 50:
		return normalize(mm, 0, 50) * 0.2
	case mm < 150:
		return 20 + normalize(mm, 50, 150)*0.4
	default:
		return 60 + math.Min(40, (mm-150)/10)
	}
}

// waterLevelScore bands: <30cm, <100cm, then +10 per 100cm up to 100.
func waterLevelScore(cm float64) float64 {
	switch {
	case cm < 30:
		return normalize(cm, 0, 30) * 0.15
	case cm < 100:
		return 15 + normalize(cm, 30, 100)*0.5
	default:
		return 65 + math.Min(35, (cm-100)/10)
	}
}

// populationScore bands: <1k, <10k, then +10 per tenfold increase.
func populationScore(n float64) float64 {
	switch {
	case n < 1000:
		return normalize(n, 0, 1000) * 0.1
	case n < 10000:
		return 10 + normalize(n, 1000, 10000)*0.6
	default:
		return 70 + math.Min(30, 10*math.Log10(n/10000))
	}
}

func infrastructureScore(pct float64) float64 {
	return normalize(pct, 0, 100)
}

// impactAreaScore bands: <10km2, <50km2, then +10 per tenfold increase.
func impactAreaScore(km2 float64) float64 {
	switch {
	case km2 < 10:
		return normalize(km2, 0, 10) * 0.15
	case km2 < 50:
		return 15 + normalize(km2, 10, 50)*0.5
	default:
		return 65 + math.Min(35, 10*math.Log10(km2/50))
	}
}

func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 50
	}
	return clamp((v-lo)/(hi-lo)*100, 0, 100)
}
