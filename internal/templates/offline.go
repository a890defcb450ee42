// Package templates renders the built-in offline fallback document served
// when the origin is unreachable and no precached offline page exists.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// defaultOfflineSource is the last-resort fallback document. The precached
// offline page from the origin is always preferred; this only renders when
// even that entry is missing from the cache.
const defaultOfflineSource = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .SiteName }} — offline</title>
</head>
<body>
<main>
<h1>{{ .SiteName }} is offline</h1>
<p>The page {{ .Path | trunc 120 }} is not available right now. Check your connection and try again.</p>
</main>
</body>
</html>
`

// OfflineData feeds the offline page template.
type OfflineData struct {
	SiteName string
	Path     string
}

// OfflinePage is a compiled offline fallback template, safe for concurrent
// rendering.
type OfflinePage struct {
	tmpl *template.Template
}

// NewOfflinePage compiles an inline template source. Empty or whitespace-only
// sources compile the built-in default.
func NewOfflinePage(source string) (*OfflinePage, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		trimmed = defaultOfflineSource
	}
	tmpl, err := template.New("offline").Funcs(pageFuncs()).Option("missingkey=zero").Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("templates: compile offline page: %w", err)
	}
	return &OfflinePage{tmpl: tmpl}, nil
}

// LoadOfflinePage compiles an operator-supplied template file.
func LoadOfflinePage(path string) (*OfflinePage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read offline page %s: %w", path, err)
	}
	return NewOfflinePage(string(raw))
}

// Render executes the template.
func (p *OfflinePage) Render(data OfflineData) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("templates: render offline page: %w", err)
	}
	return buf.Bytes(), nil
}

// pageFuncs exposes the sprig helpers minus the ones that reach into the
// process environment or filesystem; the offline page has no business doing
// either.
func pageFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return funcs
}
