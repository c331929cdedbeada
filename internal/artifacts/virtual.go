package artifacts

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Default import names for the two virtual modules.
const (
	DefaultManifestID = "ssr:manifest"
	DefaultTemplateID = "ssr:template"
)

// Registry exposes the artifact store's contents as synthetic importable
// modules. The bundler's resolution hook queries Resolve before falling
// through to normal resolution, so the two names never need files on disk.
//
// The generated sources are frozen snapshots: a consumer that imports
// ssr:manifest receives the manifest current at bundling time, not a live
// binding.
type Registry struct {
	store      *Store
	manifestID string
	templateID string
}

// NewRegistry creates a registry over the given store. Empty ids fall back
// to the defaults.
func NewRegistry(store *Store, manifestID, templateID string) *Registry {
	if manifestID == "" {
		manifestID = DefaultManifestID
	}
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	return &Registry{
		store:      store,
		manifestID: manifestID,
		templateID: templateID,
	}
}

// ManifestID returns the configured import name for the manifest module.
func (r *Registry) ManifestID() string { return r.manifestID }

// TemplateID returns the configured import name for the template module.
func (r *Registry) TemplateID() string { return r.templateID }

// Resolve returns the generated module source for one of the two virtual
// names. The second return is false for any other name, signalling the
// bundler to continue its normal resolution.
func (r *Registry) Resolve(name string) (string, bool) {
	switch name {
	case r.manifestID:
		return r.manifestSource(), true
	case r.templateID:
		return r.templateSource(), true
	default:
		return "", false
	}
}

// manifestSource serializes the current manifest as a default export of its
// pretty-printed JSON representation.
func (r *Registry) manifestSource() string {
	data, err := r.store.Manifest().MarshalIndent()
	if err != nil {
		// A Manifest is a map of string slices and always marshals.
		data = []byte("{}")
	}
	return "export default " + string(data) + ";\n"
}

// templateSource serializes the current template as a default export of a
// string literal, byte-exact including whitespace.
func (r *Registry) templateSource() string {
	return "export default " + jsString(r.store.Template()) + ";\n"
}

// jsString serializes s as a JavaScript string literal. JSON string syntax
// is a subset of JavaScript's, and the encoder escapes the line separators
// U+2028 and U+2029 that JSON permits raw but older JS parsers reject.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Strings always encode.
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Declarations returns minimal TypeScript declarations for the two virtual
// modules, suitable for writing into a consumer project.
func (r *Registry) Declarations() string {
	return "declare module " + jsString(r.manifestID) + " {\n" +
		"  const manifest: Record<string, string[]>;\n" +
		"  export default manifest;\n" +
		"}\n\n" +
		"declare module " + jsString(r.templateID) + " {\n" +
		"  const template: string;\n" +
		"  export default template;\n" +
		"}\n"
}
