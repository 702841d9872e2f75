package api

import (
	"time"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

type eventResponse struct {
	ID                   int64                     `json:"id"`
	Category             models.Category           `json:"category"`
	Location             string                    `json:"location"`
	Fingerprint          string                    `json:"fingerprint"`
	SeverityScore        float64                   `json:"severity_score"`
	SeverityLevel        models.SeverityLevel      `json:"severity_level"`
	Confidence           float64                   `json:"confidence"`
	Breakdown            []models.FactorScore      `json:"breakdown"`
	Probabilities        models.ClassProbabilities `json:"probabilities"`
	Reporter             string                    `json:"reporter"`
	Verified             bool                      `json:"verified"`
	VerifiedBy           string                    `json:"verified_by,omitempty"`
	VerifiedAt           *time.Time                `json:"verified_at,omitempty"`
	PopulationAffected   int64                     `json:"population_affected"`
	InfrastructureDamage float64                   `json:"infrastructure_damage"`
	ImpactArea           float64                   `json:"impact_area_km2"`
	CreatedAt            time.Time                 `json:"created_at"`
}

func toEventResponse(e *models.DisasterEvent) eventResponse {
	return eventResponse{
		ID:                   e.ID,
		Category:             e.Category,
		Location:             e.Location,
		Fingerprint:          e.Fingerprint.String(),
		SeverityScore:        e.SeverityScore,
		SeverityLevel:        e.SeverityLevel,
		Confidence:           e.Confidence,
		Breakdown:            e.Breakdown,
		Probabilities:        e.Probabilities,
		Reporter:             e.Reporter,
		Verified:             e.Verified,
		VerifiedBy:           e.VerifiedBy,
		VerifiedAt:           e.VerifiedAt,
		PopulationAffected:   e.PopulationAffected,
		InfrastructureDamage: e.InfrastructureDamage,
		ImpactArea:           e.ImpactArea,
		CreatedAt:            e.CreatedAt,
	}
}

type fundResponse struct {
	ID          int64             `json:"id"`
	EventID     int64             `json:"event_id"`
	TotalAmount int64             `json:"total_amount"`
	Distributed int64             `json:"distributed_amount"`
	Remaining   int64             `json:"remaining_amount"`
	Status      models.FundStatus `json:"status"`
	ApprovedBy  string            `json:"approved_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toFundResponse(f *models.FundPool) fundResponse {
	return fundResponse{
		ID:          f.ID,
		EventID:     f.EventID,
		TotalAmount: f.TotalAmount,
		Distributed: f.Distributed,
		Remaining:   f.Remaining(),
		Status:      f.Status,
		ApprovedBy:  f.ApprovedBy,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

type distributionResponse struct {
	ID            int64     `json:"id"`
	FundID        int64     `json:"fund_id"`
	Recipient     string    `json:"recipient"`
	Amount        int64     `json:"amount"`
	TransferRef   string    `json:"transfer_ref"`
	DistributedBy string    `json:"distributed_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func toDistributionResponse(d *models.Distribution) distributionResponse {
	return distributionResponse{
		ID:            d.ID,
		FundID:        d.FundID,
		Recipient:     d.Recipient,
		Amount:        d.Amount,
		TransferRef:   d.TransferRef,
		DistributedBy: d.DistributedBy,
		CreatedAt:     d.CreatedAt,
	}
}

type donationResponse struct {
	ID             int64                 `json:"id"`
	EventID        int64                 `json:"event_id"`
	Donor          string                `json:"donor"`
	Amount         int64                 `json:"amount"`
	Purpose        string                `json:"purpose,omitempty"`
	Status         models.DonationStatus `json:"status"`
	LedgerVerified bool                  `json:"ledger_verified"`
	CreatedAt      time.Time             `json:"created_at"`
}

func toDonationResponse(d *models.Donation) donationResponse {
	return donationResponse{
		ID:             d.ID,
		EventID:        d.EventID,
		Donor:          d.Donor,
		Amount:         d.Amount,
		Purpose:        d.Purpose,
		Status:         d.Status,
		LedgerVerified: d.LedgerVerified,
		CreatedAt:      d.CreatedAt,
	}
}
