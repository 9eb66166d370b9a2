package audit

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler handles audit log HTTP requests.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new audit HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers audit routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	audit := rg.Group("/audit")
	{
		audit.GET("", h.queryLogs)
		audit.GET("/export", h.exportLogs)
		audit.GET("/:id", h.getEvent)
	}
}

// queryParams reads the filter parameters shared by query and export.
func queryParams(c *gin.Context) (QueryParams, error) {
	var params QueryParams
	for key, dest := range map[string]**string{
		"connector_id": &params.ConnectorID,
		"action":       &params.Action,
		"object_class": &params.ObjectClass,
		"object_uid":   &params.ObjectUID,
		"outcome":      &params.Outcome,
	} {
		if v := c.Query(key); v != "" {
			*dest = &v
		}
	}
	for key, dest := range map[string]**time.Time{
		"start_time": &params.StartTime,
		"end_time":   &params.EndTime,
	} {
		if v := c.Query(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return params, errors.New("invalid " + key + ": expected RFC 3339")
			}
			*dest = &t
		}
	}
	return params, nil
}

func (h *HTTPHandler) queryLogs(c *gin.Context) {
	params, err := queryParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Offset = n
		}
	}

	events, total, err := h.svc.Query(c.Request.Context(), params)
	if err != nil {
		h.logger.Error("Failed to query audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit logs"})
		return
	}
	if events == nil {
		events = []Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

func (h *HTTPHandler) getEvent(c *gin.Context) {
	event, err := h.svc.GetEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get audit event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get audit event"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *HTTPHandler) exportLogs(c *gin.Context) {
	params, err := queryParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.svc.Export(c.Request.Context(), params)
	if err != nil {
		h.logger.Error("Failed to export audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export audit logs"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=provisioning_audit.csv")

	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"Time", "Connector", "Action", "Object Class", "UID", "Name", "Outcome", "Error Kind"})
	for _, e := range events {
		_ = writer.Write([]string{
			e.Timestamp.Format(time.RFC3339),
			e.ConnectorID,
			e.Action,
			e.ObjectClass,
			strVal(e.ObjectUID),
			strVal(e.ObjectName),
			e.Outcome,
			strVal(e.ErrorKind),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Warn("Failed to write audit export", zap.Error(err))
	}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
