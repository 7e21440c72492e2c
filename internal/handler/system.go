package handler

import (
	"net/http"

	"github.com/haatos/readycheck/internal"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupSystemRoutes(g *echo.Group, gatherer prometheus.Gatherer) {
	g.GET("/health", GetHealth)
	g.GET(internal.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
