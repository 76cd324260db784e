package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	gwerrors "scholargate/internal/errors"
	"scholargate/internal/upstream"
)

// ProxyHandler exposes the transparent upstream pass-through (spec §6's
// `* /proxy/{...}`): no identifier parsing, no cache, no graph merge,
// raw upstream shape in and out.
type ProxyHandler struct {
	upstream *upstream.Client
	logger   *slog.Logger
}

func NewProxyHandler(upstreamClient *upstream.Client, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{upstream: upstreamClient, logger: logger}
}

func (h *ProxyHandler) Forward(c *gin.Context) {
	path := c.Param("path")
	status, body, err := h.upstream.Proxy(c.Request.Context(), c.Request.Method, path, c.Request.Body)
	if err != nil {
		ge := gwerrors.AsGatewayError(err)
		h.logger.Error("proxy request failed",
			slog.String("path", path),
			slog.String("error", ge.Error()))
		c.JSON(ge.HTTPStatus(), gin.H{"error": ge.Message})
		return
	}
	c.Data(status, "application/json", body)
}

// RegisterRoutes wires every HTTP method under /proxy/*path to the
// upstream pass-through, matching the catch-all `* /proxy/{...}` surface.
func (h *ProxyHandler) RegisterRoutes(router *gin.Engine) {
	router.Any("/proxy/*path", h.Forward)
}
