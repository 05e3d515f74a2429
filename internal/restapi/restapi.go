// Package restapi implements the single-endpoint REST surface agent
// tools and the dashboard drive: list/alloc_port/register/start/stop/
// restart/remove/status/autostart, plus the operational /healthz and
// /metricz endpoints.
package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/hangarhq/hangar/internal/drawer"
	"github.com/hangarhq/hangar/internal/portalloc"
	"github.com/hangarhq/hangar/internal/registry"
	"github.com/hangarhq/hangar/internal/supervisor"
)

// Handler serves the /webapp action endpoint and its operational
// siblings. CSRF is deliberately not checked: the endpoint is for
// programmatic, session-authenticated agent access, same as the human
// dashboard.
type Handler struct {
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Allocator  *portalloc.Allocator
	Drawer     *drawer.Store
	AppsDir    string
}

// New constructs a Handler.
func New(reg *registry.Registry, sup *supervisor.Supervisor, alloc *portalloc.Allocator, appsDir string) *Handler {
	return &Handler{Registry: reg, Supervisor: sup, Allocator: alloc, Drawer: drawer.New(), AppsDir: appsDir}
}

// Mount registers the handler's routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /webapp", h.handleGet)
	mux.HandleFunc("POST /webapp", h.handlePost)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /metricz", h.handleMetricz)
}

// request is the decoded payload: Action selects which of the following
// fields are consulted. One struct, not one type per action, because the
// wire format is a single flat JSON object either way; the dispatch in
// handlePost is what's actually tagged on Action.
type request struct {
	Action      string            `json:"action"`
	Name        string            `json:"name"`
	Port        int               `json:"port"`
	WSPort      int               `json:"ws_port"`
	Cmd         string            `json:"cmd"`
	CWD         string            `json:"cwd"`
	Description string            `json:"description"`
	Env         map[string]string `json:"env"`
	Core        bool              `json:"core"`
	Enabled     bool              `json:"enabled"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := request{
		Action: q.Get("action"),
		Name:   q.Get("name"),
	}
	if v := q.Get("enabled"); v != "" {
		req.Enabled = v == "true" || v == "1"
	}
	h.dispatch(w, req)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
		return
	}
	h.dispatch(w, req)
}

func (h *Handler) dispatch(w http.ResponseWriter, req request) {
	switch req.Action {
	case "list":
		h.actionList(w)
	case "alloc_port":
		h.actionAllocPort(w)
	case "status":
		h.actionStatus(w, req)
	case "register":
		h.actionRegister(w, req)
	case "start":
		h.actionStart(w, req)
	case "stop":
		h.actionStop(w, req)
	case "restart":
		h.actionRestart(w, req)
	case "remove":
		h.actionRemove(w, req)
	case "autostart":
		h.actionAutostart(w, req)
	case "open_app":
		h.actionOpenApp(w, req)
	case "close_drawer":
		h.actionCloseDrawer(w)
	case "remove_tab":
		h.actionRemoveTab(w, req)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown action: " + req.Action})
	}
}

func (h *Handler) actionList(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"apps":     h.Registry.List(),
		"apps_dir": h.AppsDir,
		"drawer":   h.Drawer.Get(),
	})
}

func (h *Handler) actionAllocPort(w http.ResponseWriter) {
	port, err := h.Allocator.Next()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"port": port})
}

func (h *Handler) actionStatus(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	rec, err := h.Registry.Get(req.Name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec})
}

func (h *Handler) actionRegister(w http.ResponseWriter, req request) {
	if req.Name == "" || req.Port == 0 || req.Cmd == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name, port and cmd are required"})
		return
	}
	cwd := req.CWD
	if cwd == "" {
		cwd = h.AppsDir + "/" + req.Name
	}
	rec, err := h.Supervisor.RegisterApp(req.Name, req.Cmd, cwd, req.Port, supervisor.RegisterOptions{
		Description: req.Description,
		Env:         req.Env,
		Core:        req.Core,
		WSPort:      req.WSPort,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec, "url": rec.URL()})
}

func (h *Handler) actionStart(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	rec, err := h.Supervisor.StartApp(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec, "url": rec.URL()})
}

func (h *Handler) actionStop(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	rec, err := h.Supervisor.StopApp(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec})
}

func (h *Handler) actionRestart(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	rec, err := h.Supervisor.RestartApp(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec, "url": rec.URL()})
}

func (h *Handler) actionRemove(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	removed, err := h.Supervisor.RemoveApp(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "name": req.Name})
}

func (h *Handler) actionAutostart(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	rec, err := h.Supervisor.SetAutostart(req.Name, req.Enabled)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": rec})
}

// actionOpenApp records name as the active drawer tab, adding it if not
// already present. Not serialized against concurrent drawer writers; the
// last writer wins.
func (h *Handler) actionOpenApp(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	st := h.Drawer.Open(req.Name)
	writeJSON(w, http.StatusOK, map[string]any{"drawer": st})
}

// actionCloseDrawer marks the drawer closed without forgetting which
// apps were open.
func (h *Handler) actionCloseDrawer(w http.ResponseWriter) {
	st := h.Drawer.Close()
	writeJSON(w, http.StatusOK, map[string]any{"drawer": st})
}

// actionRemoveTab drops name from the drawer's open apps.
func (h *Handler) actionRemoveTab(w http.ResponseWriter, req request) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}
	st := h.Drawer.Remove(req.Name)
	writeJSON(w, http.StatusOK, map[string]any{"drawer": st})
}

// handleHealthz is the liveness probe added for operability; it carries
// no authentication and no app data, just process liveness.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMetricz reports a small set of counts useful for dashboards
// without pulling in a full metrics pipeline.
func (h *Handler) handleMetricz(w http.ResponseWriter, r *http.Request) {
	apps := h.Registry.List()
	running := 0
	for _, a := range apps {
		if a.Status == registry.StatusRunning {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apps_total":   len(apps),
		"apps_running": running,
		"ports_in_use": len(h.Registry.UsedPorts()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
