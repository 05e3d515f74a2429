package registry

import "testing"

func TestReservedSetCoversRequiredNames(t *testing.T) {
	names := []string{
		"", "mcp", "a2a", "login", "logout", "health", "dev-ping",
		"socket.io", "static", "message", "poll", "settings_get",
		"settings_set", "csrf_token", "chat_create", "chat_load",
		"upload", "webapp", "healthz", "metricz",
	}
	for _, n := range names {
		if !IsReserved(n) {
			t.Errorf("expected %q to be reserved", n)
		}
	}
}

func TestReservedSetExcludesAppNames(t *testing.T) {
	for _, n := range []string{"demo", "dashboard", "shared-browser"} {
		if IsReserved(n) {
			t.Errorf("did not expect %q to be reserved", n)
		}
	}
}
