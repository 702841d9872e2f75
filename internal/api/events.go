package api

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-relief-ledger/internal/ledger"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

// severityRequest carries the scorer inputs shared by event creation and
// the score preview.
type severityRequest struct {
	Probabilities        models.ClassProbabilities `json:"probabilities"`
	RainfallMM           *float64                  `json:"rainfall_mm"`
	WaterLevelCM         *float64                  `json:"water_level_cm"`
	PopulationAffected   *float64                  `json:"population_affected"`
	InfrastructureDamage *float64                  `json:"infrastructure_damage"`
	ImpactAreaKM2        *float64                  `json:"impact_area_km2"`
}

func (r severityRequest) inputs() severity.Inputs {
	return severity.Inputs{
		Probabilities:        r.Probabilities,
		RainfallMM:           r.RainfallMM,
		WaterLevelCM:         r.WaterLevelCM,
		PopulationAffected:   r.PopulationAffected,
		InfrastructureDamage: r.InfrastructureDamage,
		ImpactAreaKM2:        r.ImpactAreaKM2,
	}
}

type createEventRequest struct {
	Category    string `json:"category" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
	severityRequest
}

// scoreSeverity scores a report without storing it.
func (h *Handler) scoreSeverity(c *gin.Context) {
	var req severityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	result, err := h.ledger.Scorer().Compute(req.inputs())
	if errors.Is(err, severity.ErrInvalidInput) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) createEvent(c *gin.Context) {
	var (
		in  ledger.EventInput
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in, err = h.eventFromMultipart(c)
	} else {
		in, err = eventFromJSON(c)
	}
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	e, err := h.ledger.CreateEvent(c.Request.Context(), in, PrincipalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEventResponse(e))
}

func eventFromJSON(c *gin.Context) (ledger.EventInput, error) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ledger.EventInput{}, fmt.Errorf("invalid request body: %v", err)
	}
	fp, err := models.ParseFingerprint(req.Fingerprint)
	if err != nil {
		return ledger.EventInput{}, err
	}
	return ledger.EventInput{
		Category:    models.Category(req.Category),
		Location:    req.Location,
		Fingerprint: fp,
		Severity:    req.inputs(),
	}, nil
}

// eventFromMultipart reads a report whose image is uploaded as the "image"
// part. The fingerprint is the SHA-256 of the image bytes.
func (h *Handler) eventFromMultipart(c *gin.Context) (ledger.EventInput, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	file, err := c.FormFile("image")
	if err != nil {
		return ledger.EventInput{}, fmt.Errorf("image upload is required: %v", err)
	}
	f, err := file.Open()
	if err != nil {
		return ledger.EventInput{}, fmt.Errorf("cannot read image: %v", err)
	}
	defer f.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, f)
	if err != nil {
		return ledger.EventInput{}, fmt.Errorf("cannot read image: %v", err)
	}
	if n == 0 {
		return ledger.EventInput{}, fmt.Errorf("image is empty")
	}
	var fp models.Fingerprint
	copy(fp[:], hash.Sum(nil))

	in := ledger.EventInput{
		Category:    models.Category(c.PostForm("category")),
		Location:    c.PostForm("location"),
		Fingerprint: fp,
	}

	fields := []struct {
		name string
		dst  **float64
	}{
		{"rainfall_mm", &in.Severity.RainfallMM},
		{"water_level_cm", &in.Severity.WaterLevelCM},
		{"population_affected", &in.Severity.PopulationAffected},
		{"infrastructure_damage", &in.Severity.InfrastructureDamage},
		{"impact_area_km2", &in.Severity.ImpactAreaKM2},
	}
	for _, field := range fields {
		v, err := optionalFloat(c.PostForm(field.name))
		if err != nil {
			return ledger.EventInput{}, fmt.Errorf("%s: %v", field.name, err)
		}
		*field.dst = v
	}

	probs := []struct {
		name string
		dst  *float64
	}{
		{"probability_low", &in.Severity.Probabilities.Low},
		{"probability_medium", &in.Severity.Probabilities.Medium},
		{"probability_high", &in.Severity.Probabilities.High},
	}
	for _, p := range probs {
		v, err := strconv.ParseFloat(c.PostForm(p.name), 64)
		if err != nil {
			return ledger.EventInput{}, fmt.Errorf("%s must be a number", p.name)
		}
		*p.dst = v
	}
	return in, nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("must be a number")
	}
	return &v, nil
}

func (h *Handler) listEvents(c *gin.Context) {
	page, perPage, ok := parsePage(c)
	if !ok {
		return
	}

	result, err := h.ledger.ListEvents(c.Request.Context(), page, perPage)
	if err != nil {
		writeError(c, err)
		return
	}

	events := make([]eventResponse, 0, len(result.Events))
	for i := range result.Events {
		events = append(events, toEventResponse(&result.Events[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"page":     result.Page,
		"per_page": result.PerPage,
		"total":    result.Total,
		"pages":    result.Pages,
	})
}

func (h *Handler) getEvent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	e, err := h.ledger.GetEvent(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(e))
}

func (h *Handler) verifyEvent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	e, err := h.ledger.VerifyEvent(c.Request.Context(), id, PrincipalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(e))
}

type donationRequest struct {
	Amount  int64  `json:"amount" binding:"required"`
	Purpose string `json:"purpose"`
}

func (h *Handler) recordDonation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req donationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	d, err := h.ledger.RecordDonation(c.Request.Context(), id, PrincipalFrom(c), req.Amount, req.Purpose)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDonationResponse(d))
}

func (h *Handler) listDonations(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	donations, err := h.ledger.ListDonations(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]donationResponse, 0, len(donations))
	for i := range donations {
		out = append(out, toDonationResponse(&donations[i]))
	}
	c.JSON(http.StatusOK, gin.H{"donations": out})
}

func (h *Handler) getDonation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	d, err := h.ledger.GetDonation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDonationResponse(d))
}
