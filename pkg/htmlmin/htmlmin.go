// Package htmlmin provides HTML minification for harvested templates. It
// wraps tdewolff/minify with settings safe for templates that still need
// to be string-matched by render code: attribute quotes and doctype are
// preserved.
package htmlmin

import (
	"context"
	"strings"

	"github.com/tdewolff/minify/v2"
	mhtml "github.com/tdewolff/minify/v2/html"

	"github.com/ssrkit/ssrkit/internal/logging"
	"github.com/ssrkit/ssrkit/internal/transform"
)

// Minifier minifies HTML documents. It is safe for concurrent use.
type Minifier struct {
	m      *minify.M
	logger logging.Logger
}

// New creates a minifier with template-safe defaults.
func New(logger logging.Logger) *Minifier {
	if logger == nil {
		logger = logging.NewNop()
	}

	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})

	return &Minifier{m: m, logger: logger.WithComponent("htmlmin")}
}

// Minify returns the minified form of doc. Input that cannot be minified
// is returned unchanged.
func (mn *Minifier) Minify(doc string) (string, error) {
	var out strings.Builder
	if err := mn.m.Minify("text/html", &out, strings.NewReader(doc)); err != nil {
		return doc, err
	}
	return out.String(), nil
}

// TemplateTransform adapts the minifier into a template transform hook.
// Minification failures keep the template as-is rather than failing the
// harvest or the request.
func (mn *Minifier) TemplateTransform() transform.TemplateFunc {
	return func(ctx context.Context, template string) (transform.Result, error) {
		minified, err := mn.Minify(template)
		if err != nil {
			mn.logger.Warn(ctx, err, "html minification failed, keeping original")
			return transform.Keep(), nil
		}
		if minified == template {
			return transform.Keep(), nil
		}
		return transform.Replace(minified), nil
	}
}
