package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/service"
)

// CatalogHandler handles plugins, the plugin market, knowledge bases and
// the server-wide configuration.
type CatalogHandler struct {
	*Handler
	plugins        *service.PluginService
	knowledgeBases *service.KnowledgeBaseService
	global         *service.GlobalService
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(base *Handler, plugins *service.PluginService, knowledgeBases *service.KnowledgeBaseService, global *service.GlobalService) *CatalogHandler {
	return &CatalogHandler{
		Handler:        base,
		plugins:        plugins,
		knowledgeBases: knowledgeBases,
		global:         global,
	}
}

// RegisterRoutes registers catalog routes.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/plugins", func(r chi.Router) {
		r.Get("/", h.ListPlugins)
		r.Post("/", h.InstallPlugin)
		r.Delete("/", h.RemoveAllPlugins)
		r.Put("/{identifier}", h.UpdatePlugin)
		r.Delete("/{identifier}", h.UninstallPlugin)
	})
	r.Get("/api/market", h.Market)

	r.Route("/api/knowledge-bases", func(r chi.Router) {
		r.Get("/", h.ListKnowledgeBases)
		r.Post("/", h.CreateKnowledgeBase)
		r.Put("/{id}", h.UpdateKnowledgeBase)
		r.Delete("/{id}", h.RemoveKnowledgeBase)
	})

	r.Get("/api/global/config", h.GlobalConfig)
	r.Get("/api/global/default-agent-config", h.DefaultAgentConfig)
}

// ListPlugins returns the installed plugins.
func (h *CatalogHandler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins, err := h.plugins.GetInstalledPlugins(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load plugins")
		return
	}
	if plugins == nil {
		plugins = []domain.Plugin{}
	}
	JSON(w, http.StatusOK, plugins)
}

// InstallPlugin installs or replaces a plugin.
func (h *CatalogHandler) InstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req domain.Plugin
	if !decode(w, r, &req) {
		return
	}
	if req.Identifier == "" {
		Error(w, http.StatusBadRequest, "identifier is required")
		return
	}
	if err := h.plugins.InstallPlugin(r.Context(), req); err != nil {
		h.fail(w, r, err, "Failed to install plugin")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePlugin patches a plugin.
func (h *CatalogHandler) UpdatePlugin(w http.ResponseWriter, r *http.Request) {
	var req service.PluginUpdate
	if !decode(w, r, &req) {
		return
	}
	if err := h.plugins.UpdatePlugin(r.Context(), chi.URLParam(r, "identifier"), req); err != nil {
		h.fail(w, r, err, "Failed to update plugin")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UninstallPlugin removes one plugin.
func (h *CatalogHandler) UninstallPlugin(w http.ResponseWriter, r *http.Request) {
	if err := h.plugins.UninstallPlugin(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		h.fail(w, r, err, "Failed to uninstall plugin")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAllPlugins uninstalls every plugin.
func (h *CatalogHandler) RemoveAllPlugins(w http.ResponseWriter, r *http.Request) {
	if err := h.plugins.RemoveAllPlugins(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to remove plugins")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Market returns one page of the plugin market.
func (h *CatalogHandler) Market(w http.ResponseWriter, r *http.Request) {
	page, ok := intQuery(w, r, "page")
	if !ok {
		return
	}
	pageSize, ok := intQuery(w, r, "page_size")
	if !ok {
		return
	}

	q := r.URL.Query()
	list, err := h.plugins.GetPluginList(r.Context(), service.PluginQuery{
		Category: q.Get("category"),
		Locale:   q.Get("locale"),
		Page:     page,
		PageSize: pageSize,
		Q:        q.Get("q"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	})
	if err != nil {
		h.fail(w, r, err, "Failed to load plugin market")
		return
	}
	JSON(w, http.StatusOK, list)
}

// ListKnowledgeBases returns every knowledge base.
func (h *CatalogHandler) ListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	list, err := h.knowledgeBases.List(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load knowledge bases")
		return
	}
	if list == nil {
		list = []domain.KnowledgeBase{}
	}
	JSON(w, http.StatusOK, list)
}

// CreateKnowledgeBase creates a knowledge base.
func (h *CatalogHandler) CreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req service.KnowledgeBaseParams
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := h.knowledgeBases.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "Failed to create knowledge base")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// UpdateKnowledgeBase patches a knowledge base.
func (h *CatalogHandler) UpdateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req service.KnowledgeBaseParams
	if !decode(w, r, &req) {
		return
	}
	if err := h.knowledgeBases.Update(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update knowledge base")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveKnowledgeBase deletes a knowledge base.
func (h *CatalogHandler) RemoveKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledgeBases.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Failed to remove knowledge base")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GlobalConfig returns the runtime configuration of the active backend.
func (h *CatalogHandler) GlobalConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.global.GetGlobalConfig(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load global config")
		return
	}
	JSON(w, http.StatusOK, cfg)
}

// DefaultAgentConfig returns the configuration new sessions start with.
func (h *CatalogHandler) DefaultAgentConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.global.GetDefaultAgentConfig(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load default agent config")
		return
	}
	JSON(w, http.StatusOK, cfg)
}
