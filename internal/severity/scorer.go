// Package severity turns classifier output and environmental measurements
// into a disaster severity score.
//
// The score is a fixed weighted sum of six 0-100 sub-scores:
//
//	image analysis         40%
//	rainfall intensity     10%
//	water level            10%
//	population affected    15%
//	infrastructure damage  15%
//	impact area            10%
//
// Scoring is pure: identical inputs always produce identical results.
package severity

import (
	"errors"
	"fmt"
	"math"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

var ErrInvalidInput = errors.New("invalid severity input")

const (
	FactorImage          = "image_analysis"
	FactorRainfall       = "rainfall_intensity"
	FactorWaterLevel     = "water_level"
	FactorPopulation     = "population_affected"
	FactorInfrastructure = "infrastructure_damage"
	FactorImpactArea     = "impact_area"
)

const (
	WeightImage          = 0.40
	WeightRainfall       = 0.10
	WeightWaterLevel     = 0.10
	WeightPopulation     = 0.15
	WeightInfrastructure = 0.15
	WeightImpactArea     = 0.10

	environmentWeight = WeightRainfall + WeightWaterLevel + WeightPopulation + WeightInfrastructure + WeightImpactArea
)

// Level thresholds, inclusive upper bounds.
const (
	LowMax    = 40.0
	MediumMax = 70.0
)

type Config struct {
	Precision          int     // decimal places kept in score and confidence
	Tolerance          float64 // allowed deviation of the probability sum from 1
	MissingFactorScore float64 // sub-score used for an unreported measurement
	ClassifierWeight   float64 // share of confidence taken from classifier peakedness
}

func DefaultConfig() Config {
	return Config{
		Precision:          2,
		Tolerance:          0.01,
		MissingFactorScore: 50,
		ClassifierWeight:   0.5,
	}
}

// Inputs are the raw signals for one report. Nil measurements were not
// reported and score MissingFactorScore.
type Inputs struct {
	Probabilities        models.ClassProbabilities
	RainfallMM           *float64
	WaterLevelCM         *float64
	PopulationAffected   *float64
	InfrastructureDamage *float64 // percent, 0-100
	ImpactAreaKM2        *float64
}

type Result struct {
	Score            float64              `json:"score"`
	Level            models.SeverityLevel `json:"level"`
	Confidence       float64              `json:"confidence"`
	ImageScore       float64              `json:"image_score"`
	EnvironmentScore float64              `json:"environment_score"`
	Breakdown        []models.FactorScore `json:"breakdown"`
}

type Scorer struct {
	cfg Config
}

// New returns a Scorer. Out-of-range settings fall back to DefaultConfig.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Precision < 0 || cfg.Precision > 6 {
		cfg.Precision = def.Precision
	}
	if cfg.Tolerance <= 0 || cfg.Tolerance >= 1 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MissingFactorScore < 0 || cfg.MissingFactorScore > 100 {
		cfg.MissingFactorScore = def.MissingFactorScore
	}
	if cfg.ClassifierWeight < 0 || cfg.ClassifierWeight > 1 {
		cfg.ClassifierWeight = def.ClassifierWeight
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Config() Config {
	return s.cfg
}

type envFactor struct {
	name   string
	weight float64
	value  *float64
	curve  func(float64) float64
}

func (s *Scorer) Compute(in Inputs) (Result, error) {
	if err := s.validate(in); err != nil {
		return Result{}, err
	}

	image := imageScore(in.Probabilities)
	breakdown := make([]models.FactorScore, 0, 6)
	breakdown = append(breakdown, s.factor(FactorImage, image, WeightImage))
	total := image * WeightImage

	var envTotal float64
	for _, f := range []envFactor{
		{FactorRainfall, WeightRainfall, in.RainfallMM, rainfallScore},
		{FactorWaterLevel, WeightWaterLevel, in.WaterLevelCM, waterLevelScore},
		{FactorPopulation, WeightPopulation, in.PopulationAffected, populationScore},
		{FactorInfrastructure, WeightInfrastructure, in.InfrastructureDamage, infrastructureScore},
		{FactorImpactArea, WeightImpactArea, in.ImpactAreaKM2, impactAreaScore},
	} {
		sub := s.cfg.MissingFactorScore
		if f.value != nil {
			sub = f.curve(*f.value)
		}
		total += sub * f.weight
		envTotal += sub * f.weight
		breakdown = append(breakdown, s.factor(f.name, sub, f.weight))
	}
	env := envTotal / environmentWeight

	score := s.round(clamp(total, 0, 100))
	return Result{
		Score:            score,
		Level:            LevelFor(score),
		Confidence:       s.round(s.confidence(in.Probabilities, image, env)),
		ImageScore:       s.round(image),
		EnvironmentScore: s.round(env),
		Breakdown:        breakdown,
	}, nil
}

// LevelFor maps a score onto LOW (<=40), MEDIUM (<=70) or HIGH.
func LevelFor(score float64) models.SeverityLevel {
	switch {
	case score <= LowMax:
		return models.SeverityLow
	case score <= MediumMax:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}

// confidence rises with the classifier's peak probability and with the
// agreement between the image and environmental sub-scores.
func (s *Scorer) confidence(p models.ClassProbabilities, image, env float64) float64 {
	peak := math.Max(p.Low, math.Max(p.Medium, p.High))
	peakedness := clamp((peak-1.0/3)/(2.0/3), 0, 1)
	agreement := clamp(1-math.Abs(image-env)/100, 0, 1)
	w := s.cfg.ClassifierWeight
	return clamp(w*peakedness+(1-w)*agreement, 0, 1)
}

func (s *Scorer) validate(in Inputs) error {
	p := in.Probabilities
	classes := []struct {
		name string
		v    float64
	}{{"low", p.Low}, {"medium", p.Medium}, {"high", p.High}}
	for _, c := range classes {
		if !finite(c.v) || c.v < 0 || c.v > 1 {
			return fmt.Errorf("%w: probability %s=%v outside [0,1]", ErrInvalidInput, c.name, c.v)
		}
	}
	if sum := p.Low + p.Medium + p.High; math.Abs(sum-1) > s.cfg.Tolerance {
		return fmt.Errorf("%w: probabilities sum to %.4f", ErrInvalidInput, sum)
	}

	measurements := []struct {
		name  string
		value *float64
	}{
		{FactorRainfall, in.RainfallMM},
		{FactorWaterLevel, in.WaterLevelCM},
		{FactorPopulation, in.PopulationAffected},
		{FactorInfrastructure, in.InfrastructureDamage},
		{FactorImpactArea, in.ImpactAreaKM2},
	}
	for _, m := range measurements {
		if m.value == nil {
			continue
		}
		if !finite(*m.value) || *m.value < 0 {
			return fmt.Errorf("%w: %s=%v must be a non-negative number", ErrInvalidInput, m.name, *m.value)
		}
	}
	if in.InfrastructureDamage != nil && *in.InfrastructureDamage > 100 {
		return fmt.Errorf("%w: %s=%v exceeds 100%%", ErrInvalidInput, FactorInfrastructure, *in.InfrastructureDamage)
	}
	return nil
}

func (s *Scorer) factor(name string, sub, weight float64) models.FactorScore {
	return models.FactorScore{
		Factor:       name,
		SubScore:     s.round(sub),
		Weight:       weight,
		Contribution: s.round(sub * weight),
	}
}

func (s *Scorer) round(v float64) float64 {
	pow := math.Pow10(s.cfg.Precision)
	return math.Round(v*pow) / pow
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
