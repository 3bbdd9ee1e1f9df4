package middleware

import (
	"net/http"

	tenantRepo "tavolo/database/repository/tenant"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TenantContextKey is where the resolved tenant is stored on the gin context.
const TenantContextKey = "tenant"

// TenantResolver resolves the :tenant path parameter (the tenant slug) and
// attaches the tenant record to the request context. Unknown slugs get 404.
func TenantResolver(repo tenantRepo.TenantRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param("tenant")
		if slug == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing tenant"})
			return
		}

		tenant, err := repo.GetBySlug(c.Request.Context(), slug)
		if err != nil {
			zap.L().Error("tenant lookup failed", zap.String("slug", slug), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if tenant == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
			return
		}

		c.Set(TenantContextKey, tenant)
		c.Next()
	}
}
