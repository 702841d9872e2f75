package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createFundRequest struct {
	EventID     int64 `json:"event_id" binding:"required"`
	TotalAmount int64 `json:"total_amount" binding:"required"`
}

func (h *Handler) createFund(c *gin.Context) {
	var req createFundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	f, err := h.ledger.CreateAndApproveFund(c.Request.Context(), req.EventID, req.TotalAmount, PrincipalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFundResponse(f))
}

func (h *Handler) listFunds(c *gin.Context) {
	ids, err := h.ledger.ListFundIDs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fund_ids": ids})
}

func (h *Handler) getFund(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	f, err := h.ledger.GetFund(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFundResponse(f))
}

type distributeRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

func (h *Handler) distribute(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	d, err := h.ledger.Distribute(c.Request.Context(), id, req.Recipient, req.Amount, PrincipalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDistributionResponse(d))
}

func (h *Handler) listDistributions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	list, err := h.ledger.ListDistributions(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]distributionResponse, 0, len(list))
	for i := range list {
		out = append(out, toDistributionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"distributions": out})
}

func (h *Handler) custodyBalance(c *gin.Context) {
	if _, ok := h.requireAuthorized(c); !ok {
		return
	}
	balance, err := h.ledger.CustodyBalance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	balance, err := h.ledger.Deposit(c.Request.Context(), req.Amount, PrincipalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"balance": balance})
}

func (h *Handler) listPrincipals(c *gin.Context) {
	if _, ok := h.requireAuthorized(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"principals": h.ledger.AuthorizedPrincipals()})
}

func (h *Handler) grantPrincipal(c *gin.Context) {
	principal := strings.TrimSpace(c.Param("principal"))
	if err := h.ledger.Grant(c.Request.Context(), principal, PrincipalFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal, "authorized": true})
}

func (h *Handler) revokePrincipal(c *gin.Context) {
	principal := strings.TrimSpace(c.Param("principal"))
	if err := h.ledger.Revoke(c.Request.Context(), principal, PrincipalFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal, "authorized": false})
}
