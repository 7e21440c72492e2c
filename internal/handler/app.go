package handler

import (
	"net/http"

	"github.com/haatos/readycheck/internal"
	"github.com/labstack/echo/v4"
)

func SetupConfigRoutes(g *echo.Group, validator APIKeyValidator, configPath string) {
	h := NewConfigHandler(configPath)
	configGroup := g.Group("/api/config", RequireAPIKey(validator))
	configGroup.GET("", h.GetConfig)
	configGroup.PUT("", h.PutConfig)
}

// ConfigHandler exposes config.json. Updates are validated and written to
// disk and apply on the next start.
type ConfigHandler struct {
	configPath string
}

func NewConfigHandler(configPath string) *ConfigHandler {
	return &ConfigHandler{configPath}
}

func (h *ConfigHandler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, internal.Config)
}

func (h *ConfigHandler) PutConfig(c echo.Context) error {
	config := *internal.Config
	if err := c.Bind(&config); err != nil {
		return newError(err, http.StatusBadRequest, "invalid config data")
	}

	if err := config.Validate(); err != nil {
		return newError(err, http.StatusBadRequest, err.Error())
	}
	if err := internal.UpdateConfiguration(h.configPath, &config); err != nil {
		return newError(
			err,
			http.StatusInternalServerError,
			"unable to update configuration file",
		)
	}
	return c.JSON(http.StatusOK, &config)
}
