package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_AddAndClear(t *testing.T) {
	collector := NewCollector()
	assert.False(t, collector.HasErrors())

	collector.Add(RenderError{URL: "/page.html", Entry: "src/entry.js", Message: "boom"})
	require.True(t, collector.HasErrors())

	errs := collector.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "/page.html", errs[0].URL)
	assert.False(t, errs[0].Timestamp.IsZero())

	collector.Clear()
	assert.False(t, collector.HasErrors())
}

func TestCollector_BoundedHistory(t *testing.T) {
	collector := NewCollector()
	for i := 0; i < 30; i++ {
		collector.Add(RenderError{URL: fmt.Sprintf("/p%d.html", i), Message: "err"})
	}

	errs := collector.Errors()
	assert.Len(t, errs, 20)
	// Oldest entries dropped, newest kept.
	assert.Equal(t, "/p29.html", errs[len(errs)-1].URL)
	assert.Equal(t, "/p10.html", errs[0].URL)
}

func TestCollector_OverlayEscapesContent(t *testing.T) {
	collector := NewCollector()
	collector.Add(RenderError{
		URL:     "/x.html",
		Entry:   "src/entry.js",
		Message: `<script>alert("xss")</script>`,
	})

	overlay := collector.Overlay()
	assert.NotContains(t, overlay, `<script>alert("xss")</script>`)
	assert.Contains(t, overlay, "&lt;script&gt;")
	assert.Contains(t, overlay, "src/entry.js")
	assert.True(t, strings.HasPrefix(overlay, "<!DOCTYPE html>"))
}

func TestRenderError_Error(t *testing.T) {
	err := &RenderError{URL: "/a.html", Message: "failed"}
	assert.Equal(t, "/a.html: failed", err.Error())
}
