package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	gwerrors "scholargate/internal/errors"
	"scholargate/internal/services"
)

// PaperHandler serves the Paper Service's HTTP surface (spec §6):
// get_paper, get_paper_citations/references, search_papers,
// get_papers_batch, clear_cache and warm_cache.
type PaperHandler struct {
	paperService services.PaperServiceInterface
	logger       *slog.Logger
}

func NewPaperHandler(paperService services.PaperServiceInterface, logger *slog.Logger) *PaperHandler {
	return &PaperHandler{
		paperService: paperService,
		logger:       logger,
	}
}

// fail maps any PaperService error onto the gateway's closed Kind ->
// HTTP status table (spec §7) instead of collapsing everything to 500.
func (h *PaperHandler) fail(c *gin.Context, err error) {
	ge := gwerrors.AsGatewayError(err)
	h.logger.Error("paper request failed",
		slog.String("path", c.Request.URL.Path),
		slog.String("error", ge.Error()))
	c.JSON(ge.HTTPStatus(), gin.H{"error": ge.Message})
}

func ok(c *gin.Context, data json.RawMessage) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "message": ""})
}

func pageParams(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return offset, limit
}

// GetPaper handles GET /paper/:id.
func (h *PaperHandler) GetPaper(c *gin.Context) {
	id := c.Param("id")
	selector := c.Query("fields")
	disableCache := c.Query("disable_cache") == "true"

	doc, err := h.paperService.GetPaper(c.Request.Context(), id, selector, disableCache)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, doc)
}

// GetCitations handles GET /paper/:id/citations.
func (h *PaperHandler) GetCitations(c *gin.Context) {
	id := c.Param("id")
	offset, limit := pageParams(c)
	selector := c.Query("fields")

	doc, err := h.paperService.GetCitations(c.Request.Context(), id, offset, limit, selector)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, doc)
}

// GetReferences handles GET /paper/:id/references.
func (h *PaperHandler) GetReferences(c *gin.Context) {
	id := c.Param("id")
	offset, limit := pageParams(c)
	selector := c.Query("fields")

	doc, err := h.paperService.GetReferences(c.Request.Context(), id, offset, limit, selector)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, doc)
}

// Search handles GET /paper/search.
func (h *PaperHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	offset, limit := pageParams(c)
	selector := c.Query("fields")
	year := c.Query("year")
	venue := c.Query("venue")
	fieldsOfStudy := c.Query("fieldsOfStudy")
	matchTitle := c.Query("match_title") == "true"
	preferLocal := c.DefaultQuery("prefer_local", "true") != "false"
	fallbackToS2 := c.DefaultQuery("fallback_to_s2", "true") != "false"

	doc, err := h.paperService.SearchPapers(c.Request.Context(), query, offset, limit, selector, year, venue, fieldsOfStudy, matchTitle, preferLocal, fallbackToS2)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, doc)
}

type batchRequest struct {
	IDs          []string `json:"ids" binding:"required"`
	Fields       string   `json:"fields"`
	DisableCache bool     `json:"disable_cache"`
}

// GetPapersBatch handles POST /paper/batch.
func (h *PaperHandler) GetPapersBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch request: " + err.Error()})
		return
	}

	docs, err := h.paperService.GetPapersBatch(c.Request.Context(), req.IDs, req.Fields, req.DisableCache)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
}

// ClearCache handles DELETE /paper/:id/cache.
func (h *PaperHandler) ClearCache(c *gin.Context) {
	id := c.Param("id")
	if err := h.paperService.ClearCache(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WarmCache handles POST /paper/:id/cache/warm.
func (h *PaperHandler) WarmCache(c *gin.Context) {
	id := c.Param("id")
	selector := c.Query("fields")
	if err := h.paperService.WarmCache(c.Request.Context(), id, selector); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
