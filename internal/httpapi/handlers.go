package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"aigateway/internal/dispatch"
	"aigateway/internal/middleware"
	"aigateway/internal/models"
	"aigateway/internal/providers"
	"aigateway/internal/timing"
	"aigateway/internal/utils"
)

// ChatCompletionResponse is a non-streamed chat answer.
type ChatCompletionResponse struct {
	Role         string           `json:"role"`
	Content      string           `json:"content"`
	FinishReason string           `json:"finishReason,omitempty"`
	Model        string           `json:"model"`
	Usage        *providers.Usage `json:"usage,omitempty"`
}

// EmbeddingData is the vector of one input.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse lists vectors in input order.
type EmbeddingsResponse struct {
	Model string          `json:"model"`
	Data  []EmbeddingData `json:"data"`
	Usage providers.Usage `json:"usage"`
}

// ImagesResponse lists generated images.
type ImagesResponse struct {
	Model string            `json:"model"`
	Data  []providers.Image `json:"data"`
}

// VideoResponse describes a started video generation.
type VideoResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
}

// StatusResponse reports whether the gateway can serve anything.
type StatusResponse struct {
	Available bool `json:"available"`
}

func (d *Dependencies) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := d.Dispatcher.Available(r.Context())
	if err != nil {
		d.logger.Error("Failed to check availability", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, StatusResponse{Available: ok})
}

func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := d.prepare(w, r, models.CallTypeChatCompletion)
	if !ok {
		return
	}
	if req.Stream {
		d.streamChat(w, r, req)
		return
	}

	res, err := d.Dispatcher.Chat(r.Context(), req)
	if err != nil {
		d.respondError(w, r, err)
		return
	}
	role := res.Value.Role
	if role == "" {
		role = "assistant"
	}
	d.respond(w, r, ChatCompletionResponse{
		Role:         role,
		Content:      res.Value.Content,
		FinishReason: res.Value.FinishReason,
		Model:        req.Model,
		Usage:        &res.Value.Usage,
	})
}

func (d *Dependencies) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	req, ok := d.prepare(w, r, models.CallTypeEmbedding)
	if !ok {
		return
	}
	res, err := d.Dispatcher.Embeddings(r.Context(), req)
	if err != nil {
		d.respondError(w, r, err)
		return
	}
	data := make([]EmbeddingData, len(res.Value.Embeddings))
	for i, e := range res.Value.Embeddings {
		data[i] = EmbeddingData{Index: i, Embedding: e}
	}
	d.respond(w, r, EmbeddingsResponse{Model: req.Model, Data: data, Usage: res.Value.Usage})
}

func (d *Dependencies) handleImages(w http.ResponseWriter, r *http.Request) {
	req, ok := d.prepare(w, r, models.CallTypeImageGeneration)
	if !ok {
		return
	}
	res, err := d.Dispatcher.Images(r.Context(), req)
	if err != nil {
		d.respondError(w, r, err)
		return
	}
	d.respond(w, r, ImagesResponse{Model: req.Model, Data: res.Value.Images})
}

func (d *Dependencies) handleVideo(w http.ResponseWriter, r *http.Request) {
	req, ok := d.prepare(w, r, models.CallTypeVideo)
	if !ok {
		return
	}
	res, err := d.Dispatcher.Video(r.Context(), req)
	if err != nil {
		d.respondError(w, r, err)
		return
	}
	v := res.Value
	d.respond(w, r, VideoResponse{ID: v.ID, Model: req.Model, Status: v.Status, URL: v.URL, Seconds: v.Seconds})
}

// prepare decodes the body and runs it through model resolution and validation.
// It answers the request itself when it returns false.
func (d *Dependencies) prepare(w http.ResponseWriter, r *http.Request, typ models.CallType) (*dispatch.Request, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return nil, false
	}

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	req, err := d.Dispatcher.Prepare(r.Context(), body, typ, dispatch.Caller{UserDid: caller.UserDid, AppID: caller.AppID})
	if err != nil {
		d.respondError(w, r, err)
		return nil, false
	}
	w.Header().Set("X-Request-Id", req.ID)
	return req, true
}

// respond writes a 200 JSON answer with the request's phase timings.
func (d *Dependencies) respond(w http.ResponseWriter, r *http.Request, payload any) {
	setServerTiming(w, r)
	if err := utils.RespondWithJSON(w, http.StatusOK, payload); err != nil {
		d.logger.Warn("Failed to write response", "error", err)
	}
}

func (d *Dependencies) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := dispatch.StatusOf(err)
	if status >= http.StatusInternalServerError {
		d.logger.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		d.logger.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	setServerTiming(w, r)
	utils.RespondWithError(w, status, dispatch.MessageOf(err))
}

func setServerTiming(w http.ResponseWriter, r *http.Request) {
	t := timing.FromContext(r.Context())
	if t == nil {
		return
	}
	t.Finish()
	if v := t.ServerTiming(); v != "" {
		w.Header().Set("Server-Timing", v)
	}
}
