package pages

import (
	"log"
	"net/http"

	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// SchedulesPage renders the schedule rules with their next fire times
func SchedulesPage(sched *scheduler.Scheduler) http.HandlerFunc {
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
                    <th>Panel</th>
                    <th>Database</th>
                    <th>Kind</th>
                    <th>Anchor</th>
                    <th>Enabled</th>
                    <th>Next Fire</th>
                </tr>
            </thead>
            <tbody>
                {{range .Content}}
                <tr>
                    <td>{{.Rule.PanelName}}</td>
                    <td>{{.Rule.Database.Name}}</td>
                    <td>{{.Rule.Kind}}</td>
                    <td>{{if .Rule.CronExpr}}{{.Rule.CronExpr}}{{else}}{{.Rule.AnchorTime}}{{end}}</td>
                    <td>{{if .Rule.Enabled}}<span class="badge bg-success">yes</span>{{else}}<span class="badge bg-secondary">no</span>{{end}}</td>
                    <td>{{formatTime .NextFire}}</td>
                </tr>
                {{else}}
                <tr><td colspan="6" class="text-muted">No schedule rules configured</td></tr>
                {{end}}
            </tbody>
        </table>
        <p class="text-muted">Manage rules via the <code>/api/schedules</code> endpoints.</p>
    </div>
</div>
{{end}}
`
		tmpl, err := tmpl.Parse(contentTemplate)
		if err != nil {
			log.Printf("Error parsing schedules template: %v", err)
			http.Error(w, "Template error", http.StatusInternalServerError)
			return
		}

		var entries []scheduler.EntryStatus
		if sched != nil {
			entries = sched.Entries()
		}

		renderTemplate(w, tmpl, "/schedules", PageData{
			Title:       "Schedules",
			Description: "Recurring backup rules",
			Content:     entries,
		})
	}
}
