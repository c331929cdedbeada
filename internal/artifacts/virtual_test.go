package artifacts

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DefaultIDs(t *testing.T) {
	registry := NewRegistry(NewStore(), "", "")
	assert.Equal(t, DefaultManifestID, registry.ManifestID())
	assert.Equal(t, DefaultTemplateID, registry.TemplateID())
}

func TestRegistry_Resolve_UnknownName(t *testing.T) {
	registry := NewRegistry(NewStore(), "", "")

	_, ok := registry.Resolve("./src/main.js")
	assert.False(t, ok)

	_, ok = registry.Resolve("react")
	assert.False(t, ok)
}

func TestRegistry_Resolve_Manifest(t *testing.T) {
	store := NewStore()
	store.SetManifest(Manifest{"src/main.js": {"/assets/main.css"}})
	registry := NewRegistry(store, "", "")

	source, ok := registry.Resolve("ssr:manifest")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(source, "export default "))
	assert.True(t, strings.HasSuffix(source, ";\n"))
	assert.Contains(t, source, `"src/main.js"`)
	assert.Contains(t, source, `"/assets/main.css"`)
}

func TestRegistry_Resolve_EmptyManifest(t *testing.T) {
	registry := NewRegistry(NewStore(), "", "")

	source, ok := registry.Resolve("ssr:manifest")
	require.True(t, ok)
	assert.Equal(t, "export default {};\n", source)
}

func TestRegistry_Resolve_TemplateQuoting(t *testing.T) {
	store := NewStore()
	store.SetTemplate("<html>\n  \"quoted\" & <b>bold</b>\n</html>")
	registry := NewRegistry(store, "", "")

	source, ok := registry.Resolve("ssr:template")
	require.True(t, ok)
	// The template is a string literal: quotes and newlines escaped, no
	// raw newline in the generated source line.
	assert.Equal(t, `export default "<html>\n  \"quoted\" & <b>bold</b>\n</html>";`+"\n", source)
}

func TestRegistry_Resolve_TemplateJavaScriptRoundTrip(t *testing.T) {
	// The generated literal must evaluate back to the stored template in a
	// JavaScript engine, including control characters, line separators, and
	// non-printable astral runes.
	templates := []string{
		"bell:\a:end",
		"<html>\u2028separated\u2029</html>",
		"nul:\x00 tab:\t quote:\" backslash:\\",
		"astral:\U0001F600 control:\u009f",
	}

	for _, tmpl := range templates {
		store := NewStore()
		store.SetTemplate(tmpl)
		registry := NewRegistry(store, "", "")

		source, ok := registry.Resolve("ssr:template")
		require.True(t, ok)

		literal := strings.TrimSuffix(strings.TrimPrefix(source, "export default "), ";\n")
		value, err := goja.New().RunString("(" + literal + ")")
		require.NoError(t, err, "template %q", tmpl)
		assert.Equal(t, tmpl, value.Export(), "template %q", tmpl)
	}
}

func TestRegistry_Resolve_CustomIDs(t *testing.T) {
	store := NewStore()
	registry := NewRegistry(store, "virtual:my-manifest", "virtual:my-template")

	_, ok := registry.Resolve("ssr:manifest")
	assert.False(t, ok)

	_, ok = registry.Resolve("virtual:my-manifest")
	assert.True(t, ok)
	_, ok = registry.Resolve("virtual:my-template")
	assert.True(t, ok)
}

func TestRegistry_ResolveReflectsStoreUpdates(t *testing.T) {
	store := NewStore()
	registry := NewRegistry(store, "", "")

	before, _ := registry.Resolve("ssr:template")
	store.SetTemplate("<p>updated</p>")
	after, _ := registry.Resolve("ssr:template")

	assert.NotEqual(t, before, after)
	assert.Contains(t, after, "updated")
}

func TestRegistry_Declarations(t *testing.T) {
	registry := NewRegistry(NewStore(), "", "")
	decls := registry.Declarations()

	assert.Contains(t, decls, `declare module "ssr:manifest"`)
	assert.Contains(t, decls, `declare module "ssr:template"`)
	assert.Contains(t, decls, "Record<string, string[]>")
}
