package pages

import (
	"log"
	"net/http"

	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// DashboardData holds data for the dashboard page
type DashboardData struct {
	TotalJobs   int
	Succeeded   int
	Failed      int
	Active      int
	RecentJobs  []jobs.Record
	Schedules   []scheduler.EntryStatus
	ChannelName string
}

// DashboardPage renders the main dashboard
func DashboardPage(sched *scheduler.Scheduler, channelName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		tmpl := generateCommonTemplate()
		if tmpl == nil {
			http.Error(w, "Failed to generate template", http.StatusInternalServerError)
			return
		}

		contentTemplate := `
{{define "content"}}
<div class="row">
    <div class="col-md-3">
        <div class="card bg-light">
            <div class="card-body">
                <h5 class="card-title">Jobs</h5>
                <p class="display-4">{{.Content.TotalJobs}}</p>
                <div class="text-muted">Total backup jobs</div>
            </div>
        </div>
    </div>
    <div class="col-md-3">
        <div class="card bg-light">
            <div class="card-body">
                <h5 class="card-title">Succeeded</h5>
                <p class="display-4 text-success">{{.Content.Succeeded}}</p>
                <div class="text-muted">Delivered via {{.Content.ChannelName}}</div>
            </div>
        </div>
    </div>
    <div class="col-md-3">
        <div class="card bg-light">
            <div class="card-body">
                <h5 class="card-title">Failed</h5>
                <p class="display-4 text-danger">{{.Content.Failed}}</p>
                <div class="text-muted">Terminal failures</div>
            </div>
        </div>
    </div>
    <div class="col-md-3">
        <div class="card bg-light">
            <div class="card-body">
                <h5 class="card-title">Active</h5>
                <p class="display-4">{{.Content.Active}}</p>
                <div class="text-muted">Running right now</div>
            </div>
        </div>
    </div>
</div>

<div class="card">
    <div class="card-header">Recent Jobs</div>
    <div class="card-body">
        <table class="table table-sm">
            <thead>
                <tr>
                    <th>Panel</th>
                    <th>Database</th>
                    <th>Trigger</th>
                    <th>State</th>
                    <th>Size</th>
                    <th>Created</th>
                </tr>
            </thead>
            <tbody>
                {{range .Content.RecentJobs}}
                <tr>
                    <td>{{.PanelName}}</td>
                    <td>{{.Database}}</td>
                    <td>{{.Trigger}}</td>
                    <td><span class="badge status-badge {{if eq (printf "%s" .State) "succeeded"}}bg-success{{else if eq (printf "%s" .State) "failed"}}bg-danger{{else}}bg-info{{end}}">{{.State}}</span></td>
                    <td>{{if .ArtifactSize}}{{formatBytes .ArtifactSize}}{{else}}-{{end}}</td>
                    <td>{{timeAgo .CreatedAt}}</td>
                </tr>
                {{else}}
                <tr><td colspan="6" class="text-muted">No jobs recorded yet</td></tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>

<div class="card">
    <div class="card-header">Upcoming Schedules</div>
    <div class="card-body">
        <table class="table table-sm">
            <thead>
                <tr>
                    <th>Panel</th>
                    <th>Database</th>
                    <th>Kind</th>
                    <th>Next Fire</th>
                </tr>
            </thead>
            <tbody>
                {{range .Content.Schedules}}
                <tr>
                    <td>{{.Rule.PanelName}}</td>
                    <td>{{.Rule.Database.Name}}</td>
                    <td>{{.Rule.Kind}}</td>
                    <td>{{formatTime .NextFire}}</td>
                </tr>
                {{else}}
                <tr><td colspan="4" class="text-muted">No schedule rules configured</td></tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
{{end}}
`
		tmpl, err := tmpl.Parse(contentTemplate)
		if err != nil {
			log.Printf("Error parsing dashboard template: %v", err)
			http.Error(w, "Template error", http.StatusInternalServerError)
			return
		}

		data := DashboardData{ChannelName: channelName}
		if history.DefaultStore != nil {
			records, err := history.DefaultStore.GetJobs(history.Filter{})
			if err != nil {
				log.Printf("Error loading job history for dashboard: %v", err)
			}
			data.TotalJobs = len(records)
			for _, rec := range records {
				switch rec.State {
				case jobs.StateSucceeded:
					data.Succeeded++
				case jobs.StateFailed:
					data.Failed++
				default:
					data.Active++
				}
			}
			if len(records) > 10 {
				records = records[:10]
			}
			data.RecentJobs = records
		}
		if sched != nil {
			data.Schedules = sched.Entries()
		}

		renderTemplate(w, tmpl, "/", PageData{
			Title:       "Dashboard",
			Description: "Panel database backup overview",
			Content:     data,
		})
	}
}
