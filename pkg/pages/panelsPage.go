package pages

import (
	"log"
	"net/http"

	"github.com/supporttools/GoPanelGuard/pkg/config"
)

// PanelsPage renders the configured panel connections
func PanelsPage(panels func() []config.PanelConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl := generateCommonTemplate()
		if tmpl == nil {
			http.Error(w, "Failed to generate template", http.StatusInternalServerError)
			return
		}

		contentTemplate := `
{{define "content"}}
<div class="card">
    <div class="card-body">
        <table class="table table-sm">
            <thead>
                <tr>
                    <th>Name</th>
                    <th>URL</th>
                    <th>Status</th>
                </tr>
            </thead>
            <tbody>
                {{range .Content}}
                <tr>
                    <td>{{.Name}}</td>
                    <td>{{.URL}}</td>
                    <td>{{if .Enabled}}<span class="badge bg-success">enabled</span>{{else}}<span class="badge bg-secondary">disabled</span>{{end}}</td>
                </tr>
                {{else}}
                <tr><td colspan="3" class="text-muted">No panels configured</td></tr>
                {{end}}
            </tbody>
        </table>
        <p class="text-muted">Manage panels via the <code>/api/panels</code> endpoints.</p>
    </div>
</div>
{{end}}
`
		tmpl, err := tmpl.Parse(contentTemplate)
		if err != nil {
			log.Printf("Error parsing panels template: %v", err)
			http.Error(w, "Template error", http.StatusInternalServerError)
			return
		}

		renderTemplate(w, tmpl, "/panels", PageData{
			Title:       "Panels",
			Description: "Hosting panel connections",
			Content:     panels(),
		})
	}
}
