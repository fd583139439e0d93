// Package api provides the JSON management API for panels, schedules and jobs.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// PanelHandler handles panel management API endpoints
type PanelHandler struct {
	panelRepo *history.PanelRepository
	clients   func(panel.Connection) panel.Client
	reload    func() error
}

// NewPanelHandler creates a new panel handler. reload is invoked after any
// mutation so the running configuration picks up the change.
func NewPanelHandler(clients func(panel.Connection) panel.Client, reload func() error) *PanelHandler {
	h := &PanelHandler{clients: clients, reload: reload}

	if history.DB == nil {
		log.Println("Warning: history database is not initialized, panel management API will not work")
		return h
	}

	h.panelRepo = history.NewPanelRepository(history.DB)
	return h
}

// RegisterRoutes registers the panel API routes
func (h *PanelHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/panels", h.handlePanels)
	mux.HandleFunc("/api/panels/delete", h.handleDeletePanel)
	mux.HandleFunc("/api/panels/enable", h.handleEnablePanel)
	mux.HandleFunc("/api/panels/test", h.handleTestConnection)
}

// panelRequest is the request structure for creating/updating a panel
type panelRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Enabled bool   `json:"enabled"`
}

// panelResponse is the response structure for panel information. The API
// key is never echoed back.
type panelResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func convertPanelToResponse(p *history.PanelEntry) panelResponse {
	return panelResponse{
		ID:        p.ID,
		Name:      p.Name,
		URL:       p.URL,
		Enabled:   p.Enabled,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// handlePanels handles GET and POST requests for panel management
func (h *PanelHandler) handlePanels(w http.ResponseWriter, r *http.Request) {
	if h.panelRepo == nil {
		http.Error(w, "Panel management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getPanels(w, r)
	case http.MethodPost:
		h.createOrUpdatePanel(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getPanels returns all panels or a specific panel by name
func (h *PanelHandler) getPanels(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name != "" {
		p, err := h.panelRepo.GetPanelByName(name)
		if err != nil {
			http.Error(w, "Panel not found: "+err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(convertPanelToResponse(p))
		return
	}

	panels, err := h.panelRepo.GetAllPanels()
	if err != nil {
		http.Error(w, "Failed to retrieve panels: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := make([]panelResponse, 0, len(panels))
	for i := range panels {
		response = append(response, convertPanelToResponse(&panels[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// createOrUpdatePanel creates a new panel or updates an existing one
func (h *PanelHandler) createOrUpdatePanel(w http.ResponseWriter, r *http.Request) {
	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.URL == "" {
		http.Error(w, "Missing required fields: name, url", http.StatusBadRequest)
		return
	}

	entry := history.PanelEntry{
		ID:      req.ID,
		Name:    req.Name,
		URL:     req.URL,
		APIKey:  req.APIKey,
		Enabled: req.Enabled,
	}

	var err error
	if req.ID == "" {
		if req.APIKey == "" {
			http.Error(w, "Missing required field: apiKey", http.StatusBadRequest)
			return
		}
		err = h.panelRepo.CreatePanel(&entry)
	} else {
		err = h.panelRepo.UpdatePanel(&entry)
	}
	if err != nil {
		http.Error(w, "Failed to save panel: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.reloadConfig()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convertPanelToResponse(&entry))
}

// handleDeletePanel deletes a panel configuration
func (h *PanelHandler) handleDeletePanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.panelRepo == nil {
		http.Error(w, "Panel management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}

	if err := h.panelRepo.DeletePanel(id); err != nil {
		http.Error(w, "Failed to delete panel: "+err.Error(), http.StatusNotFound)
		return
	}

	h.reloadConfig()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "id": id})
}

// handleEnablePanel enables or disables a panel
func (h *PanelHandler) handleEnablePanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.panelRepo == nil {
		http.Error(w, "Panel management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}
	enabled := r.URL.Query().Get("enabled") == "true"

	if err := h.panelRepo.SetPanelEnabled(id, enabled); err != nil {
		http.Error(w, "Failed to update panel: "+err.Error(), http.StatusNotFound)
		return
	}

	h.reloadConfig()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "updated", "id": id, "enabled": enabled})
}

// handleTestConnection verifies panel credentials without saving anything
func (h *PanelHandler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn := panel.Connection{Name: req.Name, URL: req.URL, APIKey: req.APIKey}
	client := h.clients(conn)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := client.Ping(ctx); err != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// reloadConfig asks the application to rebuild its panel set
func (h *PanelHandler) reloadConfig() {
	if h.reload == nil {
		return
	}
	if err := h.reload(); err != nil {
		log.Printf("Error reloading configuration after panel change: %v", err)
	}
}
