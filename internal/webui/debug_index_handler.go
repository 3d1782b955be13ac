// Package webui serves a minimal HTML debug page dumping the live manager
// state for troubleshooting feed selection and watch evaluation.
package webui

import (
	"html/template"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/BrunoAFK/ZagrebTransit/internal/app"
)

const debugTemplate = `<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p><a href="/debug/?dataType=status">status</a> |
<a href="/debug/?dataType=watches">watches</a> |
<a href="/debug/?dataType=results">results</a></p>
<pre>{{.Pre}}</pre>
</body>
</html>`

type debugData struct {
	Title string
	Pre   string
}

// WebUI holds the handlers for the debug pages.
type WebUI struct {
	app *app.Application
}

// NewWebUI builds the debug UI over the running application.
func NewWebUI(application *app.Application) *WebUI {
	return &WebUI{app: application}
}

func writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	content := spew.Sdump(data)
	w.Header().Set("Content-Type", "text/html")
	tmpl, err := template.New("debug").Parse(debugTemplate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := tmpl.Execute(w, debugData{Title: title, Pre: content}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	dataType := r.URL.Query().Get("dataType")

	switch dataType {
	case "watches":
		writeDebugData(w, "Watch Registry", webUI.app.Watches.List())
	case "results":
		now := time.Now()
		writeDebugData(w, "Watch Results", webUI.app.Evaluator.EvaluateAll(webUI.app.Watches.List(), now))
	default:
		writeDebugData(w, "Manager Status", webUI.app.Manager.Snapshot())
	}
}
