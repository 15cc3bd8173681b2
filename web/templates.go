package web

import (
	"embed"
	"html/template"
	"io/fs"
	"sync"
)

//go:embed *.html app.css dashboard.js tracker.js
var content embed.FS

var (
	tmpl *template.Template
	once sync.Once
)

// Templates returns the parsed HTML templates for the UI, embedded at build time.
// layout.html pulls in the page template (projects.html, project.html, users.html)
// named by LayoutData.PageTemplate.
func Templates() *template.Template {
	once.Do(func() {
		tmpl = template.Must(template.ParseFS(content, "*.html"))
	})
	return tmpl
}

// StaticFS exposes embedded static assets such as CSS and scripts.
func StaticFS() fs.FS {
	return content
}

// TrackerJS returns the drop-in tracking script served at /tracker.js.
func TrackerJS() []byte {
	b, err := content.ReadFile("tracker.js")
	if err != nil {
		panic(err)
	}
	return b
}
