// Package scim holds the SCIM 2.0 wire model and an in-memory SCIM service
// provider used as a local backend.
package scim

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServerOptions configures the in-memory service provider.
type ServerOptions struct {
	// Token is the expected bearer token. Empty disables authentication.
	Token string
	// ZeroBasedStartIndex makes startIndex 0 address the first resource.
	ZeroBasedStartIndex bool
	// MaxResults caps the page size. Defaults to 100.
	MaxResults int
}

// Server serves the Users, Groups and ServiceProviderConfig endpoints.
type Server struct {
	store  *Store
	opts   ServerOptions
	logger *zap.Logger
}

// NewServer creates a service provider backed by store.
func NewServer(store *Store, opts ServerOptions, logger *zap.Logger) *Server {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	return &Server{store: store, opts: opts, logger: logger}
}

// Store returns the backing store.
func (h *Server) Store() *Store { return h.store }

// Handler returns a gin engine serving the endpoints under /scim/v2.
func (h *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router.Group("/scim/v2"))
	return router
}

// RegisterRoutes registers SCIM endpoints.
func (h *Server) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(h.bearerAuth())
	group.Use(scimContentType())

	group.GET("/ServiceProviderConfig", h.serviceProviderConfig)

	group.GET("/Users", h.listUsers)
	group.GET("/Users/:id", h.getUser)
	group.POST("/Users", h.createUser)
	group.PUT("/Users/:id", h.replaceUser)
	group.PATCH("/Users/:id", h.patchUser)
	group.DELETE("/Users/:id", h.deleteUser)

	// Group endpoints
	group.GET("/Groups", h.listGroups)
	group.GET("/Groups/:id", h.getGroup)
	group.POST("/Groups", h.createGroup)
	group.PUT("/Groups/:id", h.replaceGroup)
	group.PATCH("/Groups/:id", h.patchGroup)
	group.DELETE("/Groups/:id", h.deleteGroup)
}

func scimContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/scim+json")
		c.Next()
	}
}

func (h *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.Token == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.Token)) != 1 {
			h.respondError(c, NewError(http.StatusUnauthorized, "invalid or missing bearer token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Server) respondError(c *gin.Context, err error) {
	var scimErr *Error
	if !errors.As(err, &scimErr) {
		h.logger.Error("SCIM request failed", zap.Error(err))
		scimErr = NewError(http.StatusInternalServerError, "Internal server error")
	}
	c.JSON(scimErr.Status, scimErr)
}

func (h *Server) serviceProviderConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ServiceProviderConfig{
		Schemas: []string{ServiceProviderConfigSchema},
		Patch:   Supported{Supported: true},
		Filter:  Supported{Supported: true, MaxResults: h.opts.MaxResults},
	})
}

// pageParams reads startIndex and count. A start index before the first
// resource is rejected.
func (h *Server) pageParams(c *gin.Context) (start, first, count int, err error) {
	first = 1
	if h.opts.ZeroBasedStartIndex {
		first = 0
	}
	start, err = parseIndex(c.Query("startIndex"), first)
	if err != nil || start < first {
		return 0, 0, 0, NewError(http.StatusBadRequest, "invalid startIndex "+c.Query("startIndex"), "invalidValue")
	}
	count, err = parseIndex(c.Query("count"), h.opts.MaxResults)
	if err != nil {
		return 0, 0, 0, NewError(http.StatusBadRequest, "invalid count "+c.Query("count"), "invalidValue")
	}
	if count > h.opts.MaxResults {
		count = h.opts.MaxResults
	}
	return start, first, count, nil
}

// excludesMembers reports whether the request asked to leave members out.
func excludesMembers(c *gin.Context) bool {
	for _, attr := range strings.Split(c.Query("excludedAttributes"), ",") {
		if strings.EqualFold(strings.TrimSpace(attr), "members") {
			return true
		}
	}
	return false
}

func listResponse[T any](all []T, start, first, count int) ListResponse {
	items := page(all, start, first, count)
	resources := make([]any, 0, len(items))
	for _, it := range items {
		resources = append(resources, it)
	}
	return ListResponse{
		Schemas:      []string{ListSchema},
		TotalResults: len(all),
		StartIndex:   start,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}
}

// ========== User Handlers ==========

func (h *Server) listUsers(c *gin.Context) {
	start, first, count, err := h.pageParams(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	users, err := h.store.ListUsers(c.Query("filter"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(users, start, first, count))
}

func (h *Server) getUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Server) createUser(c *gin.Context) {
	var req User
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	user, err := h.store.CreateUser(req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Server) replaceUser(c *gin.Context) {
	var req User
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	user, err := h.store.ReplaceUser(c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Server) patchUser(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	user, err := h.store.PatchUser(c.Param("id"), req.Operations)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Server) deleteUser(c *gin.Context) {
	if err := h.store.DeleteUser(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Group Handlers ==========

func (h *Server) listGroups(c *gin.Context) {
	start, first, count, err := h.pageParams(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	groups, err := h.store.ListGroups(c.Query("filter"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if excludesMembers(c) {
		for i := range groups {
			groups[i].Members = nil
		}
	}
	c.JSON(http.StatusOK, listResponse(groups, start, first, count))
}

func (h *Server) getGroup(c *gin.Context) {
	group, err := h.store.GetGroup(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if excludesMembers(c) {
		group.Members = nil
	}
	c.JSON(http.StatusOK, group)
}

func (h *Server) createGroup(c *gin.Context) {
	var req Group
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	group, err := h.store.CreateGroup(req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *Server) replaceGroup(c *gin.Context) {
	var req Group
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	group, err := h.store.ReplaceGroup(c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *Server) patchGroup(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, NewError(http.StatusBadRequest, "Invalid syntax", "invalidSyntax"))
		return
	}
	group, err := h.store.PatchGroup(c.Param("id"), req.Operations)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *Server) deleteGroup(c *gin.Context) {
	if err := h.store.DeleteGroup(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
