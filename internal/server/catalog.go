package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
)

func (s *Server) ListCatalogItems(c *gin.Context) {
	items, err := s.catalogSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []domain.Item{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetCatalogItem(c *gin.Context) {
	externalID, err := strconv.ParseInt(strings.TrimSpace(c.Param("external_id")), 10, 64)
	if err != nil || externalID <= 0 {
		AbortWithError(c, invalidExternalID())
		return
	}

	item, err := s.catalogSvc.Get(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
