// Package registry implements the persistent app registry: the
// file-backed map of app name to AppRecord that the supervisor and proxy
// both read and mutate through a single mutex.
package registry

import (
	"encoding/json"
	"regexp"
	"time"
)

// Status is the lifecycle state of an AppRecord.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
)

// namePattern restricts app names to [A-Za-z0-9_-]+.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is syntactically valid (it does not
// check the reserved set — that's IsReserved).
func ValidName(name string) bool {
	return name != "" && namePattern.MatchString(name)
}

// AppRecord is the unit of registry state.
type AppRecord struct {
	Name        string            `json:"name"`
	Port        int               `json:"port"`
	WSPort      int               `json:"ws_port,omitempty"`
	Cmd         string            `json:"cmd"`
	CWD         string            `json:"cwd"`
	Description string            `json:"description,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Autostart   bool              `json:"autostart,omitempty"`
	Core        bool              `json:"core,omitempty"`
	Status      Status            `json:"status"`
	PID         *int              `json:"pid"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`

	// Extra preserves fields this version of hangar doesn't know about so
	// a registry written by a newer/older build round-trips losslessly.
	Extra map[string]json.RawMessage `json:"-"`
}

// URL is the derived, never-persisted URL prefix for the app.
func (r *AppRecord) URL() string {
	return "/" + r.Name + "/"
}

// EffectiveWSPort returns the port WebSocket frames should be tunnelled
// to: WSPort if set, else Port.
func (r *AppRecord) EffectiveWSPort() int {
	if r.WSPort != 0 {
		return r.WSPort
	}
	return r.Port
}

// knownFields lists the AppRecord JSON keys so UnmarshalJSON can route
// anything else into Extra.
var knownFields = map[string]struct{}{
	"name": {}, "port": {}, "ws_port": {}, "cmd": {}, "cwd": {},
	"description": {}, "env": {}, "autostart": {}, "core": {},
	"status": {}, "pid": {}, "created_at": {}, "started_at": {},
}

// MarshalJSON emits the known fields plus any preserved Extra fields
// flattened back into the same object.
func (r AppRecord) MarshalJSON() ([]byte, error) {
	type alias AppRecord
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, known := knownFields[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes everything else in
// Extra for round-tripping.
func (r *AppRecord) UnmarshalJSON(data []byte) error {
	type alias AppRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = AppRecord(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range knownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}
