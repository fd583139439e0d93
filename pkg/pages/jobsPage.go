package pages

import (
	"log"
	"net/http"

	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

// JobsPageData holds data for the job history page
type JobsPageData struct {
	Jobs        []jobs.Record
	FilterPanel string
	FilterDB    string
}

// JobsPage renders the job history listing
func JobsPage(w http.ResponseWriter, r *http.Request) {
	tmpl := generateCommonTemplate()
	if tmpl == nil {
		http.Error(w, "Failed to generate template", http.StatusInternalServerError)
		return
	}

	contentTemplate := `
{{define "content"}}
<form class="row g-2 mb-3" method="get">
    <div class="col-auto">
        <input type="text" class="form-control" name="panel" placeholder="Panel" value="{{.Content.FilterPanel}}">
    </div>
    <div class="col-auto">
        <input type="text" class="form-control" name="database" placeholder="Database" value="{{.Content.FilterDB}}">
    </div>
    <div class="col-auto">
        <button type="submit" class="btn btn-primary">Filter</button>
    </div>
</form>

<div class="card">
    <div class="card-body">
        <table class="table table-sm table-hover">
            <thead>
                <tr>
                    <th>Panel</th>
                    <th>Database</th>
                    <th>Trigger</th>
                    <th>State</th>
                    <th>Artifact</th>
                    <th>Size</th>
                    <th>Delivery</th>
                    <th>Created</th>
                    <th>Completed</th>
                    <th>Error</th>
                </tr>
            </thead>
            <tbody>
                {{range .Content.Jobs}}
                <tr>
                    <td>{{.PanelName}}</td>
                    <td>{{.Database}}</td>
                    <td>{{.Trigger}}</td>
                    <td><span class="badge status-badge {{if eq (printf "%s" .State) "succeeded"}}bg-success{{else if eq (printf "%s" .State) "failed"}}bg-danger{{else}}bg-info{{end}}">{{.State}}</span></td>
                    <td>{{if .ArtifactName}}{{.ArtifactName}}{{else}}-{{end}}</td>
                    <td>{{if .ArtifactSize}}{{formatBytes .ArtifactSize}}{{else}}-{{end}}</td>
                    <td>{{if .DeliveryRef}}{{.DeliveryStatus}} ({{.DeliveryRef}}){{else}}{{.DeliveryStatus}}{{end}}</td>
                    <td>{{formatTime .CreatedAt}}</td>
                    <td>{{formatTime .CompletedAt}}</td>
                    <td class="text-danger">{{.Error}}</td>
                </tr>
                {{else}}
                <tr><td colspan="10" class="text-muted">No jobs match the filter</td></tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
{{end}}
`
	tmpl, err := tmpl.Parse(contentTemplate)
	if err != nil {
		log.Printf("Error parsing jobs template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	data := JobsPageData{
		FilterPanel: r.URL.Query().Get("panel"),
		FilterDB:    r.URL.Query().Get("database"),
	}
	if history.DefaultStore != nil {
		records, err := history.DefaultStore.GetJobs(history.Filter{
			PanelName: data.FilterPanel,
			Database:  data.FilterDB,
			Limit:     200,
		})
		if err != nil {
			log.Printf("Error loading job history: %v", err)
		}
		data.Jobs = records
	}

	renderTemplate(w, tmpl, "/jobs", PageData{
		Title:       "Job History",
		Description: "Backup job lifecycle records",
		Content:     data,
	})
}
