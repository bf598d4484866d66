package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
)

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListRequest{}

	batchID, err := parseOptionalSnowflakeID(c.Query("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.BatchID = batchID

	issuerID, err := parseOptionalSnowflakeID(c.Query("issuer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.IssuerID = issuerID

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st := invoicedomain.Status(raw)
		req.Status = &st
	}

	limit, err := parseLimit(c.Query("limit"), 100)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.Limit = limit

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ResetInvoice(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.Reset(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
