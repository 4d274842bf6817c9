package handler

import (
	"net/http"

	"statebridge/internal/service"
	"statebridge/pkg/response"
)

type ConfigHandler struct {
	configs *service.ConfigManager
}

func NewConfigHandler(configs *service.ConfigManager) *ConfigHandler {
	return &ConfigHandler{configs: configs}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.configs.Config(r.Context()))
}

// Load merges the caller's stored configuration into the live one. A missing
// or unreadable copy is not an error; the result says whether it was used.
func (h *ConfigHandler) Load(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.configs.LoadConfigState(r.Context()))
}

func (h *ConfigHandler) Save(w http.ResponseWriter, r *http.Request) {
	h.configs.SaveConfigState(r.Context())
	response.Success(w, h.configs.Config(r.Context()))
}

func (h *ConfigHandler) Platform(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.configs.Platform())
}
