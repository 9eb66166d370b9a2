package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

// HTTPHandler handles connector HTTP requests.
type HTTPHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new connector HTTP handler.
func NewHTTPHandler(svc Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers connector routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/connectors")
	{
		g.GET("", h.listConnectors)
		g.POST("", h.registerConnector)
		g.DELETE("/:id", h.removeConnector)
		g.GET("/:id/schema", h.getSchema)
		g.POST("/:id/test", h.testConnection)

		objects := g.Group("/:id/objects/:class")
		objects.GET("", h.listObjects)
		objects.POST("", h.createObject)
		objects.POST("/search", h.searchObjects)
		objects.GET("/:uid", h.getObject)
		objects.PATCH("/:uid", h.updateObject)
		objects.DELETE("/:uid", h.deleteObject)
	}
}

func (h *HTTPHandler) listConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connectors": h.svc.ListConnectors(c.Request.Context())})
}

// registerRequest carries the settings that Config keeps out of its JSON form.
type registerRequest struct {
	ID       string         `json:"id" binding:"required"`
	Name     string         `json:"name"`
	Type     string         `json:"type" binding:"required"`
	Settings map[string]any `json:"settings"`
}

func (h *HTTPHandler) registerConnector(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	info, err := h.svc.RegisterConnector(c.Request.Context(), Config{
		ID:       req.ID,
		Name:     req.Name,
		Type:     req.Type,
		Settings: req.Settings,
	})
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *HTTPHandler) removeConnector(c *gin.Context) {
	if err := h.svc.RemoveConnector(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "remove", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) getSchema(c *gin.Context) {
	classes, err := h.svc.Schema(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "schema", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectClasses": classes})
}

func (h *HTTPHandler) testConnection(c *gin.Context) {
	if err := h.svc.TestConnection(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "test", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRequest struct {
	Attributes []schema.Attribute `json:"attributes" binding:"required"`
}

func (h *HTTPHandler) createObject(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	uid, err := h.svc.CreateObject(c.Request.Context(), c.Param("id"), c.Param("class"), req.Attributes)
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": uid})
}

// deltaRequest is one attribute change. A present replace list replaces the
// values, even when empty; add and remove apply otherwise.
type deltaRequest struct {
	Name    string `json:"name" binding:"required"`
	Replace *[]any `json:"replace"`
	Add     []any  `json:"add"`
	Remove  []any  `json:"remove"`
}

type updateRequest struct {
	Deltas []deltaRequest `json:"deltas" binding:"required,dive"`
}

func (d deltaRequest) delta() (schema.AttributeDelta, error) {
	if d.Replace != nil {
		if len(d.Add) > 0 || len(d.Remove) > 0 {
			return schema.AttributeDelta{}, fmt.Errorf("delta %s mixes replace with add or remove", d.Name)
		}
		return schema.ReplaceDelta(d.Name, *d.Replace...), nil
	}
	return schema.AddRemoveDelta(d.Name, d.Add, d.Remove), nil
}

func (h *HTTPHandler) updateObject(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	deltas := make([]schema.AttributeDelta, 0, len(req.Deltas))
	for _, d := range req.Deltas {
		delta, err := d.delta()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
			return
		}
		deltas = append(deltas, delta)
	}
	if err := h.svc.UpdateObject(c.Request.Context(), c.Param("id"), c.Param("class"), c.Param("uid"), deltas); err != nil {
		h.fail(c, "update", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) deleteObject(c *gin.Context) {
	if err := h.svc.DeleteObject(c.Request.Context(), c.Param("id"), c.Param("class"), c.Param("uid")); err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) getObject(c *gin.Context) {
	opts, err := searchOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	resp, err := h.svc.SearchObjects(c.Request.Context(), c.Param("id"), c.Param("class"), SearchRequest{
		Filter:  filter.Equals{Attribute: schema.UIDAttribute, Value: c.Param("uid")},
		Options: opts,
	})
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	if len(resp.Objects) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found", "kind": connerr.UnknownTarget.String()})
		return
	}
	c.JSON(http.StatusOK, resp.Objects[0])
}

// listObjects serves simple searches from query parameters: uid, name and
// repeated member values select objects, the rest shape the result.
func (h *HTTPHandler) listObjects(c *gin.Context) {
	opts, err := searchOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	req := SearchRequest{Options: opts, Members: c.QueryArray("member")}
	switch uid, name := c.Query("uid"), c.Query("name"); {
	case uid != "" && name != "":
		req.Filter = filter.And{
			Left:  filter.Equals{Attribute: schema.UIDAttribute, Value: uid},
			Right: filter.Equals{Attribute: schema.NameAttribute, Value: name},
		}
	case uid != "":
		req.Filter = filter.Equals{Attribute: schema.UIDAttribute, Value: uid}
	case name != "":
		req.Filter = filter.Equals{Attribute: schema.NameAttribute, Value: name}
	}
	h.search(c, req)
}

// searchBody is the JSON form of a search request.
type searchBody struct {
	Filter     *Expression `json:"filter"`
	Members    []string    `json:"members"`
	Attributes []string    `json:"attributes"`
	// DefaultAttributes adds the attributes returned by default to Attributes.
	DefaultAttributes bool `json:"defaultAttributes"`
	AllowPartial      bool `json:"allowPartial"`
	PageSize          int  `json:"pageSize"`
	PageOffset        int  `json:"pageOffset"`
}

func (h *HTTPHandler) searchObjects(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	expr, err := body.Filter.Expr()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": connerr.InvalidInput.String()})
		return
	}
	h.search(c, SearchRequest{
		Filter:  expr,
		Members: body.Members,
		Options: SearchOptions{
			AttributesToGet:             body.Attributes,
			ReturnDefaultAttributes:     body.DefaultAttributes,
			AllowPartialAttributeValues: body.AllowPartial,
			PageSize:                    body.PageSize,
			PageOffset:                  body.PageOffset,
		},
	})
}

func (h *HTTPHandler) search(c *gin.Context, req SearchRequest) {
	resp, err := h.svc.SearchObjects(c.Request.Context(), c.Param("id"), c.Param("class"), req)
	if err != nil {
		h.fail(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func searchOptions(c *gin.Context) (SearchOptions, error) {
	var opts SearchOptions
	for key, dest := range map[string]*int{
		"pageSize":   &opts.PageSize,
		"pageOffset": &opts.PageOffset,
	} {
		if v := c.Query(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return opts, fmt.Errorf("invalid %s: %q", key, v)
			}
			*dest = n
		}
	}
	if v := c.Query("attrs"); v != "" {
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				opts.AttributesToGet = append(opts.AttributesToGet, a)
			}
		}
	}
	if v := c.Query("defaultAttrs"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid defaultAttrs: %q", v)
		}
		opts.ReturnDefaultAttributes = b
	}
	if v := c.Query("allowPartial"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid allowPartial: %q", v)
		}
		opts.AllowPartialAttributeValues = b
	}
	return opts, nil
}

// fail writes the HTTP form of err.
func (h *HTTPHandler) fail(c *gin.Context, op string, err error) {
	status := StatusOf(err)
	kind := connerr.KindOf(err).String()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Connector operation failed",
			zap.String("op", op),
			zap.String("connector", c.Param("id")),
			zap.String("kind", kind),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// StatusOf maps an operation error to its HTTP status.
func StatusOf(err error) int {
	if errors.Is(err, ErrConnectorNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch connerr.KindOf(err) {
	case connerr.InvalidInput:
		return http.StatusBadRequest
	case connerr.AlreadyExists:
		return http.StatusConflict
	case connerr.UnknownTarget:
		return http.StatusNotFound
	case connerr.ConnectionFailure, connerr.UpstreamFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
