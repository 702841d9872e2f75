package models

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryFlood      Category = "flood"
	CategoryEarthquake Category = "earthquake"
	CategoryCyclone    Category = "cyclone"
	CategoryLandslide  Category = "landslide"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryFlood, CategoryEarthquake, CategoryCyclone, CategoryLandslide:
		return c, nil
	default:
		return "", fmt.Errorf("unknown disaster category %q", s)
	}
}

type SeverityLevel string

const (
	SeverityLow    SeverityLevel = "LOW"
	SeverityMedium SeverityLevel = "MEDIUM"
	SeverityHigh   SeverityLevel = "HIGH"
)

// FingerprintSize is the length of a SHA-256 digest.
const FingerprintSize = 32

// Fingerprint is the content hash of a submitted disaster image.
type Fingerprint [FingerprintSize]byte

func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fp, fmt.Errorf("fingerprint is not hex: %w", err)
	}
	if len(b) != FingerprintSize {
		return fp, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(b))
	}
	copy(fp[:], b)
	return fp, nil
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ClassProbabilities is the image classifier's softmax output.
type ClassProbabilities struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// FactorScore is one row of a severity breakdown.
type FactorScore struct {
	Factor       string  `json:"factor"`
	SubScore     float64 `json:"sub_score"` // 0-100
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // SubScore * Weight
}

type DisasterEvent struct {
	ID                   int64
	Category             Category
	Location             string
	Fingerprint          Fingerprint
	SeverityScore        float64 // 0-100
	SeverityLevel        SeverityLevel
	Confidence           float64 // 0-1
	Breakdown            []FactorScore
	Probabilities        ClassProbabilities
	Reporter             string
	Verified             bool
	VerifiedBy           string
	VerifiedAt           *time.Time
	PopulationAffected   int64
	InfrastructureDamage float64 // percent
	ImpactArea           float64 // km2
	CreatedAt            time.Time
}
