package registry

// CoreSet is the built-in set of app names that are always treated as
// core (removal-forbidden) regardless of what their persisted `core`
// flag says — a normaliser for registries written before the core flag
// existed.
var CoreSet = map[string]struct{}{
	"dashboard":      {},
	"shared-browser": {}, // owns the CDP singleton on 127.0.0.1:9222
}

// IsCoreName reports whether name is in the built-in CoreSet.
func IsCoreName(name string) bool {
	_, ok := CoreSet[name]
	return ok
}
