package errors

import (
	"fmt"
	"html"
	"sync"
	"time"
)

// RenderError records one failed development render.
type RenderError struct {
	URL       string
	Entry     string
	Message   string
	Timestamp time.Time
}

// Error implements the error interface
func (re *RenderError) Error() string {
	return fmt.Sprintf("%s: %s", re.URL, re.Message)
}

// Collector collects development render errors for the error overlay.
// Errors are per-request; the collector keeps the most recent ones so the
// overlay can show history without growing unbounded.
type Collector struct {
	errors []RenderError
	max    int
	mutex  sync.RWMutex
}

// NewCollector creates a new render error collector.
func NewCollector() *Collector {
	return &Collector{max: 20}
}

// Add records a render error.
func (c *Collector) Add(err RenderError) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	err.Timestamp = time.Now()
	c.errors = append(c.errors, err)
	if len(c.errors) > c.max {
		c.errors = c.errors[len(c.errors)-c.max:]
	}
}

// Errors returns a copy of the collected render errors.
func (c *Collector) Errors() []RenderError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]RenderError, len(c.errors))
	copy(result, c.errors)
	return result
}

// HasErrors returns true if there are any errors
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors) > 0
}

// Clear clears all errors
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errors = c.errors[:0]
}

// Overlay generates the HTML error overlay served when a development
// render fails. The page is self-contained so it renders without any of
// the project's own assets.
func (c *Collector) Overlay() string {
	errs := c.Errors()

	page := `<!DOCTYPE html>
<html>
<head><title>SSR Render Error</title></head>
<body style="background:#1a202c;color:#e2e8f0;font-family:Monaco,Menlo,monospace;font-size:14px;padding:20px;">
<div style="max-width:1000px;margin:0 auto;">
<h2 style="color:#ff6b6b;">SSR Render Error</h2>
<div>`

	for i := len(errs) - 1; i >= 0; i-- {
		err := errs[i]
		page += fmt.Sprintf(`
<div style="background:#2d3748;padding:15px;margin-bottom:15px;border-radius:4px;border-left:4px solid #ff6b6b;">
<div style="display:flex;justify-content:space-between;margin-bottom:10px;">
<span style="color:#ff6b6b;font-weight:bold;">%s</span>
<span style="color:#a0aec0;font-size:12px;">%s</span>
</div>
<div style="color:#e2e8f0;margin-bottom:5px;"><strong>%s</strong></div>
<div style="color:#a0aec0;font-size:12px;">entry: %s</div>
</div>`,
			html.EscapeString(err.URL),
			err.Timestamp.Format("15:04:05"),
			html.EscapeString(err.Message),
			html.EscapeString(err.Entry))
	}

	page += `
</div>
</div>
</body>
</html>`

	return page
}
