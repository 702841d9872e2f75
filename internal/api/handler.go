package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-relief-ledger/internal/ledger"
	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

// Ledger is the core the HTTP layer drives. *ledger.Ledger implements it.
type Ledger interface {
	CreateEvent(ctx context.Context, in ledger.EventInput, reporter string) (*models.DisasterEvent, error)
	VerifyEvent(ctx context.Context, id int64, principal string) (*models.DisasterEvent, error)
	GetEvent(ctx context.Context, id int64) (*models.DisasterEvent, error)
	ListEvents(ctx context.Context, page, perPage int) (*ledger.EventPage, error)

	CreateAndApproveFund(ctx context.Context, eventID, total int64, principal string) (*models.FundPool, error)
	Distribute(ctx context.Context, fundID int64, recipient string, amount int64, principal string) (*models.Distribution, error)
	GetFund(ctx context.Context, id int64) (*models.FundPool, error)
	ListFundIDs(ctx context.Context) ([]int64, error)
	ListDistributions(ctx context.Context, fundID int64) ([]models.Distribution, error)
	Deposit(ctx context.Context, amount int64, principal string) (int64, error)
	CustodyBalance(ctx context.Context) (int64, error)

	RecordDonation(ctx context.Context, eventID int64, donor string, amount int64, purpose string) (*models.Donation, error)
	GetDonation(ctx context.Context, id int64) (*models.Donation, error)
	ListDonations(ctx context.Context, eventID int64) ([]models.Donation, error)

	Grant(ctx context.Context, principal, actor string) error
	Revoke(ctx context.Context, principal, actor string) error
	IsAuthorized(principal string) bool
	AuthorizedPrincipals() []string

	Scorer() *severity.Scorer
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	JWTSecret      string
	MaxUploadBytes int64
}

type Handler struct {
	ledger  Ledger
	audit   repository.AuditRepository
	db      Pinger
	metrics *metrics.Metrics
	cfg     Config
}

func NewHandler(l Ledger, audit repository.AuditRepository, db Pinger, m *metrics.Metrics, cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		ledger:  l,
		audit:   audit,
		db:      db,
		metrics: m,
		cfg:     cfg,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/health", h.health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	r.GET("/api/events", h.listEvents)
	r.GET("/api/events/:id", h.getEvent)
	r.GET("/api/events/:id/donations", h.listDonations)
	r.GET("/api/funds", h.listFunds)
	r.GET("/api/funds/:id", h.getFund)
	r.GET("/api/funds/:id/distributions", h.listDistributions)
	r.GET("/api/donations/:id", h.getDonation)
	r.POST("/api/severity/score", h.scoreSeverity)

	authed := r.Group("/api", RequireAuth(h.cfg.JWTSecret))
	authed.POST("/events", h.createEvent)
	authed.POST("/events/:id/verify", h.verifyEvent)
	authed.POST("/events/:id/donations", h.recordDonation)
	authed.POST("/funds", h.createFund)
	authed.POST("/funds/:id/distributions", h.distribute)
	authed.GET("/custody", h.custodyBalance)
	authed.POST("/custody/deposits", h.deposit)
	authed.GET("/principals", h.listPrincipals)
	authed.PUT("/principals/:principal", h.grantPrincipal)
	authed.DELETE("/principals/:principal", h.revokePrincipal)
	authed.GET("/audit-logs", h.listAuditLogs)
}

func (h *Handler) health(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps ledger errors to HTTP statuses. Unexpected errors are
// logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": ledger.Reason(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicate),
		errors.Is(err, ledger.ErrAlreadyVerified),
		errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "reason": "validation"})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parsePage reads page and per_page query parameters.
func parsePage(c *gin.Context) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		badRequest(c, "page must be a positive integer")
		return 0, 0, false
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(ledger.DefaultPerPage)))
	if err != nil || perPage < 1 || perPage > ledger.MaxPerPage {
		badRequest(c, "per_page must be between 1 and "+strconv.Itoa(ledger.MaxPerPage))
		return 0, 0, false
	}
	return page, perPage, true
}

// requireAuthorized rejects principals outside the authorized set.
func (h *Handler) requireAuthorized(c *gin.Context) (string, bool) {
	principal := PrincipalFrom(c)
	if !h.ledger.IsAuthorized(principal) {
		c.JSON(http.StatusForbidden, gin.H{"error": "principal not authorized", "reason": "unauthorized"})
		return "", false
	}
	return principal, true
}

func (h *Handler) listAuditLogs(c *gin.Context) {
	if _, ok := h.requireAuthorized(c); !ok {
		return
	}
	page, perPage, ok := parsePage(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	total, err := h.audit.CountAudit(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	pages := ledger.PageCount(total, perPage)

	logs := []models.Notification{}
	if page <= pages {
		logs, err = h.audit.ListAudit(ctx, perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"page":     page,
		"per_page": perPage,
		"total":    total,
		"pages":    pages,
	})
}
