package domain

import "time"

// InboxSessionID is the built-in default session. Backends store it as null.
const InboxSessionID = "inbox"

// SessionType distinguishes single-agent sessions from group sessions.
type SessionType string

const (
	SessionTypeAgent SessionType = "agent"
	SessionTypeGroup SessionType = "group"
)

// SessionMeta is the display metadata of a chat session. BackendAgentID
// links the session to its remote agent and survives restarts.
type SessionMeta struct {
	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	Avatar          string   `json:"avatar,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BackendAgentID  int64    `json:"backendAgentId,omitempty"`
}

// KnowledgeBaseRef is a knowledge base attached to an agent configuration.
type KnowledgeBaseRef struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// AgentConfig is the assistant configuration of a local session.
type AgentConfig struct {
	Model          string             `json:"model,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	SystemRole     string             `json:"systemRole,omitempty"`
	Plugins        []string           `json:"plugins,omitempty"`
	KnowledgeBases []KnowledgeBaseRef `json:"knowledgeBases,omitempty"`
	ChatConfig     map[string]any     `json:"chatConfig,omitempty"`
	Params         map[string]any     `json:"params,omitempty"`
}

// Session is a local chat session. Only ID, Config and Meta matter to the
// agent mapping; everything else is carried through untouched.
type Session struct {
	ID        string      `json:"id"`
	Type      SessionType `json:"type"`
	Group     string      `json:"group,omitempty"`
	Pinned    bool        `json:"pinned,omitempty"`
	Config    AgentConfig `json:"config"`
	Meta      SessionMeta `json:"meta"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// SessionGroup is a user-defined folder of sessions.
type SessionGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Sort *int   `json:"sort,omitempty"`
}

// SessionList is the grouped session listing returned by both backends.
type SessionList struct {
	SessionGroups []SessionGroup `json:"sessionGroups"`
	Sessions      []Session      `json:"sessions"`
}

// SessionRank is one entry of the most-used sessions ranking.
type SessionRank struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Count int    `json:"count"`
}

// StorageSessionID maps the inbox session to nil; both backends
// represent it as a null session id.
func StorageSessionID(id string) *string {
	if id == "" || id == InboxSessionID {
		return nil
	}
	return &id
}
