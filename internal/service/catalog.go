package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
)

// PluginService manages installed plugins.
type PluginService struct {
	b *Backends
}

// NewPluginService creates a plugin service.
func NewPluginService(b *Backends) *PluginService {
	return &PluginService{b: b}
}

// PluginUpdate is a partial plugin update.
type PluginUpdate struct {
	Manifest     json.RawMessage `json:"manifest,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CustomParams json.RawMessage `json:"customParams,omitempty"`
}

// GetInstalledPlugins lists installed plugins.
func (p *PluginService) GetInstalledPlugins(ctx context.Context) ([]domain.Plugin, error) {
	return call[[]domain.Plugin](ctx, p.b, dispatch.OpGetInstalledPlugins,
		restCall{method: http.MethodGet, endpoint: "api/plugins"}, nil)
}

// InstallPlugin installs or replaces a plugin.
func (p *PluginService) InstallPlugin(ctx context.Context, plugin domain.Plugin) error {
	return exec(ctx, p.b, dispatch.OpInstallPlugin,
		restCall{method: http.MethodPost, endpoint: "api/plugins", body: plugin}, plugin)
}

// UninstallPlugin removes a plugin by identifier.
func (p *PluginService) UninstallPlugin(ctx context.Context, identifier string) error {
	return exec(ctx, p.b, dispatch.OpUninstallPlugin,
		restCall{method: http.MethodDelete, endpoint: pathID("api/plugins", identifier)},
		map[string]any{"id": identifier})
}

// UpdatePlugin patches a plugin's manifest, settings or custom params.
func (p *PluginService) UpdatePlugin(ctx context.Context, identifier string, value PluginUpdate) error {
	input, err := mergeObjects(value, map[string]any{"id": identifier})
	if err != nil {
		return err
	}
	return exec(ctx, p.b, dispatch.OpUpdatePlugin,
		restCall{method: http.MethodPut, endpoint: pathID("api/plugins", identifier), body: value}, input)
}

// RemoveAllPlugins uninstalls every plugin.
func (p *PluginService) RemoveAllPlugins(ctx context.Context) error {
	return exec(ctx, p.b, dispatch.OpRemoveAllPlugins,
		restCall{method: http.MethodDelete, endpoint: "api/plugins"}, nil)
}

const (
	defaultMarketPage     = 1
	defaultMarketPageSize = 20
)

// PluginQuery filters the plugin market listing. A zero Page or PageSize
// falls back to the first page of twenty.
type PluginQuery struct {
	Category string `json:"category,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Q        string `json:"q,omitempty"`
	Sort     string `json:"sort,omitempty"`
	Order    string `json:"order,omitempty"`
}

func (q PluginQuery) withDefaults() PluginQuery {
	if q.Page <= 0 {
		q.Page = defaultMarketPage
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultMarketPageSize
	}
	return q
}

func (q PluginQuery) values() url.Values {
	v := url.Values{}
	for key, value := range map[string]string{
		"category": q.Category,
		"locale":   q.Locale,
		"q":        q.Q,
		"sort":     q.Sort,
		"order":    q.Order,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	return v
}

// GetPluginList returns one page of the plugin market as served by the
// active backend.
func (p *PluginService) GetPluginList(ctx context.Context, q PluginQuery) (json.RawMessage, error) {
	q = q.withDefaults()
	return call[json.RawMessage](ctx, p.b, dispatch.OpGetPluginList,
		restCall{method: http.MethodGet, endpoint: withQuery("api/market", q.values())}, q)
}

// KnowledgeBaseService manages knowledge bases.
type KnowledgeBaseService struct {
	b *Backends
}

// NewKnowledgeBaseService creates a knowledge base service.
func NewKnowledgeBaseService(b *Backends) *KnowledgeBaseService {
	return &KnowledgeBaseService{b: b}
}

// KnowledgeBaseParams creates or updates a knowledge base.
type KnowledgeBaseParams struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// List returns every knowledge base.
func (k *KnowledgeBaseService) List(ctx context.Context) ([]domain.KnowledgeBase, error) {
	return call[[]domain.KnowledgeBase](ctx, k.b, dispatch.OpListKnowledgeBases,
		restCall{method: http.MethodGet, endpoint: "api/knowledge-bases"}, nil)
}

// Create creates a knowledge base and returns its id.
func (k *KnowledgeBaseService) Create(ctx context.Context, p KnowledgeBaseParams) (string, error) {
	return createID(ctx, k.b, dispatch.OpCreateKnowledgeBase,
		restCall{method: http.MethodPost, endpoint: "api/knowledge-bases", body: p}, p)
}

// Update patches a knowledge base.
func (k *KnowledgeBaseService) Update(ctx context.Context, id string, p KnowledgeBaseParams) error {
	return exec(ctx, k.b, dispatch.OpUpdateKnowledgeBase,
		restCall{method: http.MethodPut, endpoint: pathID("api/knowledge-bases", id), body: p},
		map[string]any{"id": id, "value": p})
}

// Remove deletes a knowledge base.
func (k *KnowledgeBaseService) Remove(ctx context.Context, id string) error {
	return exec(ctx, k.b, dispatch.OpRemoveKnowledgeBase,
		restCall{method: http.MethodDelete, endpoint: pathID("api/knowledge-bases", id)},
		map[string]any{"id": id})
}

// GlobalService reads server-wide configuration.
type GlobalService struct {
	b *Backends
}

// NewGlobalService creates a global configuration service.
func NewGlobalService(b *Backends) *GlobalService {
	return &GlobalService{b: b}
}

// GetGlobalConfig returns the runtime configuration as served by the
// active backend.
func (g *GlobalService) GetGlobalConfig(ctx context.Context) (json.RawMessage, error) {
	return call[json.RawMessage](ctx, g.b, dispatch.OpGetGlobalConfig,
		restCall{method: http.MethodGet, endpoint: "api/config/global"}, nil)
}

// GetDefaultAgentConfig returns the configuration new sessions start with.
func (g *GlobalService) GetDefaultAgentConfig(ctx context.Context) (*domain.AgentConfig, error) {
	cfg, err := call[domain.AgentConfig](ctx, g.b, dispatch.OpGetDefaultAgentConfig,
		restCall{method: http.MethodGet, endpoint: "api/config/default-agent"}, nil)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
