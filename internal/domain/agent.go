package domain

const (
	// DefaultAgentName is used when a session has no title.
	DefaultAgentName = "Untitled Agent"
	// DefaultAgentModel is used when a session has no model selected.
	DefaultAgentModel = "gpt-4o-mini"
)

// Agent is an assistant configuration owned by the external backend.
// ID and UserID are assigned by the backend and never modified here.
type Agent struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   *string  `json:"description"`
	Instruction   string   `json:"instruction"`
	Model         string   `json:"model"`
	Tools         []string `json:"tools"`
	UseFileSearch bool     `json:"use_file_search"`
	UserID        int64    `json:"user_id"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// AgentCreate is the creation payload for a remote agent.
type AgentCreate struct {
	Name          string   `json:"name"`
	Description   *string  `json:"description"`
	Instruction   string   `json:"instruction"`
	Model         string   `json:"model,omitempty"`
	Tools         []string `json:"tools"`
	UseFileSearch bool     `json:"use_file_search"`
}

// AgentUpdate is a partial update of a remote agent. Nil fields are left
// unchanged by the backend.
type AgentUpdate struct {
	Name          *string   `json:"name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Instruction   *string   `json:"instruction,omitempty"`
	Model         *string   `json:"model,omitempty"`
	Tools         *[]string `json:"tools,omitempty"`
	UseFileSearch *bool     `json:"use_file_search,omitempty"`
}

// SessionDraft is the local session shape materialized for a remote agent.
type SessionDraft struct {
	Config AgentConfig
	Meta   SessionMeta
}

// MapSessionToAgent translates a local session into the remote agent
// creation schema.
func MapSessionToAgent(s *Session) AgentCreate {
	name := s.Meta.Title
	if name == "" {
		name = DefaultAgentName
	}

	var description *string
	if s.Meta.Description != "" {
		d := s.Meta.Description
		description = &d
	}

	model := s.Config.Model
	if model == "" {
		model = DefaultAgentModel
	}

	tools := s.Config.Plugins
	if tools == nil {
		tools = []string{}
	}

	return AgentCreate{
		Name:          name,
		Description:   description,
		Instruction:   s.Config.SystemRole,
		Model:         model,
		Tools:         append([]string(nil), tools...),
		UseFileSearch: len(s.Config.KnowledgeBases) > 0,
	}
}

// MapAgentToSession translates a remote agent into a local session shape.
func MapAgentToSession(a *Agent) SessionDraft {
	var description string
	if a.Description != nil {
		description = *a.Description
	}

	return SessionDraft{
		Config: AgentConfig{
			Model:      a.Model,
			Plugins:    append([]string(nil), a.Tools...),
			SystemRole: a.Instruction,
		},
		Meta: SessionMeta{
			Title:          a.Name,
			Description:    description,
			BackendAgentID: a.ID,
		},
	}
}
