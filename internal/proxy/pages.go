package proxy

import (
	"html/template"
	"net/http"

	"github.com/hangarhq/hangar/internal/registry"
)

// errorPageTmpl renders the self-describing HTML page used for both the
// "not running" (503) and "can't connect" (502) cases.
var errorPageTmpl = template.Must(template.New("proxy-error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}} is not reachable</title></head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Message}}</p>
<dl>
<dt>Status</dt><dd>{{.Status}}</dd>
<dt>Port</dt><dd>{{.Port}}</dd>
<dt>Description</dt><dd>{{.Description}}</dd>
</dl>
<p>Start it with <code>POST /webapp {"action":"start","name":"{{.Name}}"}</code>.</p>
</body>
</html>
`))

type errorPageData struct {
	Name        string
	Message     string
	Status      registry.Status
	Port        int
	Description string
}

// writeNotRunningPage renders the 503 page for an app that exists but
// isn't running.
func writeNotRunningPage(w http.ResponseWriter, rec registry.AppRecord) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = errorPageTmpl.Execute(w, errorPageData{
		Name:        rec.Name,
		Message:     "This app is registered but not currently running.",
		Status:      rec.Status,
		Port:        rec.Port,
		Description: rec.Description,
	})
}

// writeUpstreamDownPage renders the 502 HTML page for a connect failure.
func writeUpstreamDownPage(w http.ResponseWriter, rec registry.AppRecord) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_ = errorPageTmpl.Execute(w, errorPageData{
		Name:        rec.Name,
		Message:     "This app is marked running but its port refused the connection.",
		Status:      rec.Status,
		Port:        rec.Port,
		Description: rec.Description,
	})
}

// writeUpstreamErrorText renders the plain-text 502 for any other
// upstream exception.
func writeUpstreamErrorText(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte("upstream error: " + err.Error()))
}
