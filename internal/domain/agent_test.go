package domain

import "testing"

func TestMapSessionToAgentDefaults(t *testing.T) {
	t.Parallel()

	got := MapSessionToAgent(&Session{ID: "s1"})

	if got.Name != DefaultAgentName {
		t.Errorf("expected name %q, got %q", DefaultAgentName, got.Name)
	}
	if got.Model != DefaultAgentModel {
		t.Errorf("expected model %q, got %q", DefaultAgentModel, got.Model)
	}
	if got.Description != nil {
		t.Errorf("expected nil description, got %q", *got.Description)
	}
	if got.Tools == nil || len(got.Tools) != 0 {
		t.Errorf("expected empty non-nil tools, got %#v", got.Tools)
	}
	if got.UseFileSearch {
		t.Error("expected use_file_search false without knowledge bases")
	}
}

func TestMapSessionToAgentCarriesConfig(t *testing.T) {
	t.Parallel()

	s := &Session{
		ID: "s2",
		Config: AgentConfig{
			Model:          "gpt-4o",
			SystemRole:     "You review Go code.",
			Plugins:        []string{"search", "calculator"},
			KnowledgeBases: []KnowledgeBaseRef{{ID: "kb1"}},
		},
		Meta: SessionMeta{Title: "Reviewer", Description: "Strict"},
	}

	got := MapSessionToAgent(s)

	if got.Name != "Reviewer" || got.Instruction != "You review Go code." || got.Model != "gpt-4o" {
		t.Fatalf("unexpected mapping: %+v", got)
	}
	if got.Description == nil || *got.Description != "Strict" {
		t.Fatalf("expected description Strict, got %v", got.Description)
	}
	if len(got.Tools) != 2 || got.Tools[0] != "search" {
		t.Fatalf("unexpected tools: %v", got.Tools)
	}
	if !got.UseFileSearch {
		t.Fatal("expected use_file_search true with a knowledge base attached")
	}

	got.Tools[0] = "mutated"
	if s.Config.Plugins[0] != "search" {
		t.Fatal("mapping must not alias the session's plugin slice")
	}
}

func TestMapAgentToSession(t *testing.T) {
	t.Parallel()

	desc := "Answers billing questions"
	a := &Agent{
		ID:          7,
		Name:        "Billing",
		Description: &desc,
		Instruction: "Be brief.",
		Model:       "gpt-4o-mini",
		Tools:       []string{"lookup"},
	}

	got := MapAgentToSession(a)

	if got.Meta.Title != "Billing" || got.Meta.Description != desc || got.Meta.BackendAgentID != 7 {
		t.Fatalf("unexpected meta: %+v", got.Meta)
	}
	if got.Config.SystemRole != "Be brief." || got.Config.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected config: %+v", got.Config)
	}
	if len(got.Config.Plugins) != 1 || got.Config.Plugins[0] != "lookup" {
		t.Fatalf("unexpected plugins: %v", got.Config.Plugins)
	}

	a.Description = nil
	if got := MapAgentToSession(a); got.Meta.Description != "" {
		t.Fatalf("expected empty description for nil, got %q", got.Meta.Description)
	}
}

func TestStorageSessionID(t *testing.T) {
	t.Parallel()

	if StorageSessionID(InboxSessionID) != nil {
		t.Error("inbox must map to nil")
	}
	if StorageSessionID("") != nil {
		t.Error("empty id must map to nil")
	}
	if got := StorageSessionID("abc"); got == nil || *got != "abc" {
		t.Errorf("expected abc, got %v", got)
	}
}
