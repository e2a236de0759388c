package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
)

func TestGetPluginListDefaults(t *testing.T) {
	t.Parallel()

	rb := newRESTBackend(t, jsonHandler(http.StatusOK, `{"items":[],"totalCount":0}`))
	svc := NewPluginService(newBackends(dispatch.ModeExternal, "tok", rb, nil))

	raw, err := svc.GetPluginList(context.Background(), PluginQuery{Locale: "en-US"})
	if err != nil {
		t.Fatalf("GetPluginList failed: %v", err)
	}
	if string(raw) != `{"items":[],"totalCount":0}` {
		t.Fatalf("unexpected body %s", raw)
	}
	req := rb.last()
	if req.method != http.MethodGet || req.path != "/api/market" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if req.query != "locale=en-US&page=1&pageSize=20" {
		t.Fatalf("unexpected query %q", req.query)
	}

	caller := &fakeCaller{result: map[string]any{"items": []any{}}}
	local := NewPluginService(newBackends(dispatch.ModeLocal, "", rb, caller))
	if _, err := local.GetPluginList(context.Background(), PluginQuery{Page: 3, Q: "search"}); err != nil {
		t.Fatalf("GetPluginList failed: %v", err)
	}
	call := caller.calls[0]
	if call.procedure != "market.getPluginList" {
		t.Fatalf("expected market.getPluginList, got %s", call.procedure)
	}
	if call.input["page"] != float64(3) || call.input["pageSize"] != float64(20) || call.input["q"] != "search" {
		t.Fatalf("unexpected input %v", call.input)
	}
}

func TestKnowledgeBaseServiceExternal(t *testing.T) {
	t.Parallel()

	rb := newRESTBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			jsonHandler(http.StatusCreated, `{"id":"kb_1"}`)(w, r)
		case http.MethodGet:
			jsonHandler(http.StatusOK, `[{"id":"kb_1","name":"Docs"}]`)(w, r)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	svc := NewKnowledgeBaseService(newBackends(dispatch.ModeExternal, "tok", rb, nil))
	ctx := context.Background()

	id, err := svc.Create(ctx, KnowledgeBaseParams{Name: "Docs"})
	if err != nil || id != "kb_1" {
		t.Fatalf("expected kb_1, got %q err=%v", id, err)
	}
	if req := rb.last(); req.path != "/api/knowledge-bases" || req.body != `{"name":"Docs"}` {
		t.Fatalf("unexpected create request %+v", req)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "Docs" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}

	enabled := false
	if err := svc.Update(ctx, "kb_1", KnowledgeBaseParams{Enabled: &enabled}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if req := rb.last(); req.method != http.MethodPut || req.path != "/api/knowledge-bases/kb_1" || req.body != `{"enabled":false}` {
		t.Fatalf("unexpected update request %+v", req)
	}

	if err := svc.Remove(ctx, "kb_1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if req := rb.last(); req.method != http.MethodDelete || req.path != "/api/knowledge-bases/kb_1" {
		t.Fatalf("unexpected remove request %+v", req)
	}
}

func TestKnowledgeBaseServiceLocal(t *testing.T) {
	t.Parallel()

	rb := newRESTBackend(t, jsonHandler(http.StatusOK, `{}`))
	caller := &fakeCaller{}
	svc := NewKnowledgeBaseService(newBackends(dispatch.ModeLocal, "", rb, caller))

	if err := svc.Remove(context.Background(), "kb_1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if rb.count() != 0 {
		t.Fatalf("external backend must not be called, got %d requests", rb.count())
	}
	call := caller.calls[0]
	if call.procedure != "knowledgeBase.removeKnowledgeBase" || call.input["id"] != "kb_1" {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestThreadServiceExternal(t *testing.T) {
	t.Parallel()

	rb := newRESTBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			jsonHandler(http.StatusOK, `{"threadId":"thd_1","messageId":"msg_1"}`)(w, r)
		default:
			jsonHandler(http.StatusOK, `[{"id":"thd_1","topicId":"tpc_1"}]`)(w, r)
		}
	})
	svc := NewThreadService(newBackends(dispatch.ModeExternal, "tok", rb, nil))
	ctx := context.Background()

	created, err := svc.CreateThreadWithMessage(ctx, CreateThreadParams{
		TopicID:         "tpc_1",
		SourceMessageID: "msg_0",
		Type:            "standalone",
		Message:         CreateMessageParams{Role: domain.RoleUser, Content: "branch here", SessionID: domain.InboxSessionID},
	})
	if err != nil {
		t.Fatalf("CreateThreadWithMessage failed: %v", err)
	}
	if created.ThreadID != "thd_1" || created.MessageID != "msg_1" {
		t.Fatalf("unexpected result %+v", created)
	}

	req := rb.last()
	if req.method != http.MethodPost || req.path != "/api/threads" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(req.body), &body); err != nil {
		t.Fatalf("invalid body %s: %v", req.body, err)
	}
	message, _ := body["message"].(map[string]any)
	if v, ok := message["sessionId"]; !ok || v != nil {
		t.Fatalf("expected inbox to be sent as null, got %v", message)
	}
	if message["content"] != "branch here" || body["topicId"] != "tpc_1" {
		t.Fatalf("unexpected body %v", body)
	}

	threads, err := svc.GetThreads(ctx, "tpc_1")
	if err != nil || len(threads) != 1 {
		t.Fatalf("unexpected threads %+v err=%v", threads, err)
	}
	if q := rb.last().query; q != "topicId=tpc_1" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestThreadServiceLocal(t *testing.T) {
	t.Parallel()

	rb := newRESTBackend(t, jsonHandler(http.StatusOK, `{}`))
	caller := &fakeCaller{}
	svc := NewThreadService(newBackends(dispatch.ModeLocal, "", rb, caller))

	if err := svc.UpdateThread(context.Background(), "thd_1", map[string]any{"title": "Renamed"}); err != nil {
		t.Fatalf("UpdateThread failed: %v", err)
	}
	call := caller.calls[0]
	if call.procedure != "thread.updateThread" || call.input["id"] != "thd_1" {
		t.Fatalf("unexpected call %+v", call)
	}
	value, _ := call.input["value"].(map[string]any)
	if value["title"] != "Renamed" {
		t.Fatalf("unexpected value %v", call.input["value"])
	}
}
