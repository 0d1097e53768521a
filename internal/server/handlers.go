package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/govguard/govguard/internal/extract"
	"github.com/govguard/govguard/internal/invoice"
	"github.com/govguard/govguard/internal/logging"
	"github.com/govguard/govguard/internal/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func errorJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// uploadInvoice runs the document triage flow on a multipart "file" field.
func (s *Server) uploadInvoice(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			errorJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body exceeds the upload limit")
			return
		}
		errorJSON(c, http.StatusBadRequest, "invalid_request", "A multipart 'file' field is required")
		return
	}
	if !extract.Supported(fh.Filename) {
		errorJSON(c, http.StatusBadRequest, "unsupported_file", "Only PDF files are supported")
		return
	}

	f, err := fh.Open()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "Could not read uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "Could not read uploaded file")
		return
	}

	inv, err := s.service.Ingest(c.Request.Context(), fh.Filename, data)
	switch {
	case errors.Is(err, extract.ErrUnsupportedFile):
		errorJSON(c, http.StatusBadRequest, "unsupported_file", "Only PDF files are supported")
		return
	case errors.Is(err, invoice.ErrInvalidInvoice):
		errorJSON(c, http.StatusBadRequest, "invalid_invoice", err.Error())
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("invoice ingest failed", "filename", fh.Filename, "error", err)
		errorJSON(c, http.StatusInternalServerError, "ingest_failed", "Failed to process invoice")
		return
	}

	c.JSON(http.StatusOK, inv)
}

// listInvoices returns every invoice, or one page when limit or cursor is
// given.
func (s *Server) listInvoices(c *gin.Context) {
	ctx := c.Request.Context()
	cursor := c.Query("cursor")
	limitStr := c.Query("limit")

	if cursor == "" && limitStr == "" {
		invs, err := s.service.List(ctx)
		if err != nil {
			logging.L(ctx).Error("list invoices failed", "error", err)
			errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to list invoices")
			return
		}
		if invs == nil {
			invs = []*invoice.Invoice{}
		}
		c.JSON(http.StatusOK, gin.H{"invoices": invs, "count": len(invs)})
		return
	}

	limit := 0
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	invs, next, err := s.service.ListPage(ctx, cursor, limit)
	switch {
	case errors.Is(err, pagination.ErrInvalidCursor):
		errorJSON(c, http.StatusBadRequest, "invalid_cursor", "Cursor is not valid")
		return
	case err != nil:
		logging.L(ctx).Error("list invoices failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to list invoices")
		return
	}
	if invs == nil {
		invs = []*invoice.Invoice{}
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices":    invs,
		"count":       len(invs),
		"next_cursor": next,
		"has_more":    next != "",
	})
}

func (s *Server) getInvoice(c *gin.Context) {
	inv, err := s.service.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, invoice.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "not_found", "Invoice not found")
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("get invoice failed", "id", c.Param("id"), "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to load invoice")
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) exportInvoices(c *gin.Context) {
	data, err := s.service.Export(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("export failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "export_failed", "Failed to export invoices")
		return
	}
	name := fmt.Sprintf("invoices-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// analyze runs the statistics flow on a feature vector.
func (s *Server) analyze(c *gin.Context) {
	var f invoice.Features
	if err := c.ShouldBindJSON(&f); err != nil {
		if tooLarge(err) {
			errorJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body exceeds the limit")
			return
		}
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.service.Analyze(c.Request.Context(), f)
	switch {
	case errors.Is(err, invoice.ErrInvalidFeatures):
		errorJSON(c, http.StatusBadRequest, "invalid_features", err.Error())
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("analyze failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to score invoice")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) syncWarehouse(c *gin.Context) {
	n, err := s.service.SyncWarehouse(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("warehouse sync failed", "error", err)
		errorJSON(c, http.StatusBadGateway, "warehouse_failed", "Failed to sync warehouse")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": n})
}
