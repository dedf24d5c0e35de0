package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, reg *prometheus.Registry, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(MetricsMiddleware(reg))

	clientes := r.Group("/clientes/:id")
	{
		clientes.POST("/transacoes", h.CreateTransaction)
		clientes.GET("/extrato", h.GetExtract)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}
