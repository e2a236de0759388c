package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/service"
)

// TopicHandler handles topic and thread endpoints.
type TopicHandler struct {
	*Handler
	topics  *service.TopicService
	threads *service.ThreadService
}

// NewTopicHandler creates a new topic handler.
func NewTopicHandler(base *Handler, topics *service.TopicService, threads *service.ThreadService) *TopicHandler {
	return &TopicHandler{Handler: base, topics: topics, threads: threads}
}

// RegisterRoutes registers topic and thread routes.
func (h *TopicHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/topics", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/", h.RemoveAll)
		r.Get("/all", h.ListAll)
		r.Get("/count", h.Count)
		r.Get("/search", h.Search)
		r.Post("/batch-delete", h.BatchRemove)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Remove)
	})

	r.Route("/api/threads", func(r chi.Router) {
		r.Get("/", h.ListThreads)
		r.Post("/", h.CreateThread)
		r.Put("/{id}", h.UpdateThread)
		r.Delete("/{id}", h.RemoveThread)
	})
}

func writeTopics(w http.ResponseWriter, topics []domain.Topic) {
	if topics == nil {
		topics = []domain.Topic{}
	}
	JSON(w, http.StatusOK, topics)
}

// List returns the topics of session_id. A missing session_id is the inbox.
func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topics.GetTopics(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.fail(w, r, err, "Failed to load topics")
		return
	}
	writeTopics(w, topics)
}

// ListAll returns every topic.
func (h *TopicHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topics.GetAllTopics(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load topics")
		return
	}
	writeTopics(w, topics)
}

// Count counts topics in an optional date range.
func (h *TopicHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.topics.CountTopics(r.Context(), dateRange(r))
	if err != nil {
		h.fail(w, r, err, "Failed to count topics")
		return
	}
	JSON(w, http.StatusOK, map[string]int{"count": n})
}

// Search finds topics by keyword.
func (h *TopicHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topics, err := h.topics.SearchTopics(r.Context(), q.Get("keywords"), q.Get("session_id"))
	if err != nil {
		h.fail(w, r, err, "Failed to search topics")
		return
	}
	writeTopics(w, topics)
}

type createTopicRequest struct {
	service.CreateTopicParams
	SessionID string `json:"sessionId"`
}

// Create creates a topic and moves the listed messages into it.
func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	p := req.CreateTopicParams
	p.SessionID = req.SessionID

	id, err := h.topics.CreateTopic(r.Context(), p)
	if err != nil {
		h.fail(w, r, err, "Failed to create topic")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Update patches a topic.
func (h *TopicHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.topics.UpdateTopic(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update topic")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove deletes one topic.
func (h *TopicHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.topics.RemoveTopic(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Failed to remove topic")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAll deletes the topics of session_id, or every topic when it is
// not given.
func (h *TopicHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	var err error
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		err = h.topics.RemoveTopicsBySession(r.Context(), sessionID)
	} else {
		err = h.topics.RemoveAllTopics(r.Context())
	}
	if err != nil {
		h.fail(w, r, err, "Failed to remove topics")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// BatchRemove deletes several topics.
func (h *TopicHandler) BatchRemove(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		Error(w, http.StatusBadRequest, "ids is required")
		return
	}
	if err := h.topics.BatchRemoveTopics(r.Context(), req.IDs); err != nil {
		h.fail(w, r, err, "Failed to remove topics")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListThreads returns the threads of topic_id.
func (h *TopicHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	topicID := r.URL.Query().Get("topic_id")
	if topicID == "" {
		Error(w, http.StatusBadRequest, "topic_id is required")
		return
	}
	threads, err := h.threads.GetThreads(r.Context(), topicID)
	if err != nil {
		h.fail(w, r, err, "Failed to load threads")
		return
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	JSON(w, http.StatusOK, threads)
}

type createThreadRequest struct {
	service.CreateThreadParams
	Message createMessageRequest `json:"message"`
}

// CreateThread creates a thread together with its first message.
func (h *TopicHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TopicID == "" || req.SourceMessageID == "" {
		Error(w, http.StatusBadRequest, "topicId and sourceMessageId are required")
		return
	}
	p := req.CreateThreadParams
	p.Message = req.Message.params()

	created, err := h.threads.CreateThreadWithMessage(r.Context(), p)
	if err != nil {
		h.fail(w, r, err, "Failed to create thread")
		return
	}
	JSON(w, http.StatusCreated, created)
}

// UpdateThread patches a thread.
func (h *TopicHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.threads.UpdateThread(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update thread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveThread deletes a thread.
func (h *TopicHandler) RemoveThread(w http.ResponseWriter, r *http.Request) {
	if err := h.threads.RemoveThread(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Failed to remove thread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
