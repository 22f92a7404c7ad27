package delivery

import (
	"errors"
	"net/http"
	"strconv"

	authdelivery "levramail-backend/internal/auth/delivery"
	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/internal/search/usecase"

	"github.com/gin-gonic/gin"
)

type searchRequest struct {
	searchdomain.Query
	AllSources bool `json:"allSources"`
}

type questionRequest struct {
	Question string `json:"question" binding:"required"`
}

type answerRequest struct {
	Question string `json:"question" binding:"required"`
	Response string `json:"response" binding:"required"`
}

type SearchHandler struct {
	engine usecase.Engine
	qa     usecase.QACache
}

func NewSearchHandler(engine usecase.Engine, qa usecase.QACache) *SearchHandler {
	return &SearchHandler{engine: engine, qa: qa}
}

func (h *SearchHandler) Semantic(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accountID := authdelivery.Principal(c).AccountID

	var (
		hits []searchdomain.Hit
		err  error
	)
	if req.AllSources {
		hits, err = h.engine.VectorSearchAllSources(c.Request.Context(), accountID, req.Query)
	} else {
		hits, err = h.engine.VectorSearch(c.Request.Context(), accountID, req.Query)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (h *SearchHandler) Keyword(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	accountID := authdelivery.Principal(c).AccountID

	var (
		hits []searchdomain.Hit
		err  error
	)
	if source := c.Query("source"); source != "" {
		hits, err = h.engine.SearchBySource(c.Request.Context(), accountID, c.Query("q"), source, limit)
	} else {
		hits, err = h.engine.Search(c.Request.Context(), accountID, c.Query("q"), limit)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (h *SearchHandler) Count(c *gin.Context) {
	count, err := h.engine.DocumentCount(c.Request.Context(), authdelivery.Principal(c).AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (h *SearchHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrEmptyTerm) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *SearchHandler) LookupAnswer(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry := h.qa.Lookup(c.Request.Context(), authdelivery.Principal(c).AccountID, req.Question)
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"hit": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hit": true, "entry": entry})
}

func (h *SearchHandler) AddAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := h.qa.Add(c.Request.Context(), authdelivery.Principal(c).AccountID, req.Question, req.Response)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *SearchHandler) MarkUnhelpful(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed, err := h.qa.MarkUnhelpful(c.Request.Context(), authdelivery.Principal(c).AccountID, req.Question)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
