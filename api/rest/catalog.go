package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// CatalogHandler serves the read-only quest catalog.
type CatalogHandler struct {
	catalog *quest.Catalog
	view    viewer
	logger  *zap.Logger
}

// NewCatalogHandler creates a CatalogHandler. desc may be nil.
func NewCatalogHandler(catalog *quest.Catalog, desc quest.Describer, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, view: viewer{desc: desc}, logger: logger}
}

// List returns every quest, optionally filtered by category.
// GET /api/quests?category=&locale=
func (h *CatalogHandler) List(c *gin.Context) {
	var list []*quest.Template
	if cat := c.Query("category"); cat != "" {
		list = h.catalog.ByCategory(quest.Category(cat))
	} else {
		list = h.catalog.All()
	}
	c.JSON(http.StatusOK, gin.H{
		"quests": h.view.templates(list, c.Query("locale")),
		"total":  len(list),
	})
}

// Get returns one quest with its dependents.
// GET /api/quests/:quest_id
func (h *CatalogHandler) Get(c *gin.Context) {
	id := quest.QuestID(c.Param("quest_id"))
	t, err := h.catalog.Resolve(id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	dependents := h.catalog.Dependents(id)
	if dependents == nil {
		dependents = []quest.QuestID{}
	}
	c.JSON(http.StatusOK, gin.H{
		"quest":   h.view.template(t, c.Query("locale")),
		"unlocks": dependents,
	})
}
