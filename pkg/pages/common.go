// Package pages provides HTML pages for the admin UI.
package pages

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoPanelGuard/pkg/version"
)

// PageData holds common data for all pages
type PageData struct {
	Title       string
	Description string
	Time        string
	AppName     string
	Version     string
	NavLinks    []NavLink
	Content     interface{}
}

// NavLink represents a navigation link
type NavLink struct {
	URL      string
	Name     string
	Active   bool
	Icon     string
	External bool
}

// Common navigation links used across pages
var commonNavLinks = []NavLink{
	{URL: "/", Name: "Dashboard", Icon: "home"},
	{URL: "/jobs", Name: "Job History", Icon: "list"},
	{URL: "/panels", Name: "Panels", Icon: "server"},
	{URL: "/schedules", Name: "Schedules", Icon: "clock"},
	{URL: "/metrics", Name: "Metrics", Icon: "bar-chart-2", External: true},
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d minutes, %d seconds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%d hours, %d minutes", hours, minutes)
}

// generateCommonTemplate creates the base template with common elements
func generateCommonTemplate() *template.Template {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04:05")
		},
		"formatBytes": func(v interface{}) string {
			switch val := v.(type) {
			case uint64:
				return humanize.IBytes(val)
			case int64:
				return humanize.IBytes(uint64(val))
			case int:
				return humanize.IBytes(uint64(val))
			default:
				return "0 B"
			}
		},
		"formatDuration": formatDuration,
		"timeAgo":        humanize.Time,
	}

	baseTemplate := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{ .Title }} - {{ .AppName }}</title>
    <meta name="description" content="{{ .Description }}">
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css">
    <style>
        body {
            padding-top: 20px;
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
        }
        .navbar {
            margin-bottom: 20px;
        }
        .card {
            margin-bottom: 20px;
        }
        .status-badge {
            font-size: 0.8rem;
            padding: 0.25rem 0.5rem;
        }
        footer {
            margin-top: 3rem;
            padding: 1.5rem 0;
            border-top: 1px solid #e9ecef;
            color: #6c757d;
            font-size: 0.9rem;
        }
    </style>
</head>
<body>
    <div class="container">
        <header class="pb-3 mb-4 border-bottom">
            <a href="/" class="d-flex align-items-center text-dark text-decoration-none">
                <span class="fs-4">{{ .AppName }}</span>
            </a>
        </header>

        <nav class="navbar navbar-expand-lg navbar-light bg-light rounded">
            <div class="container-fluid">
                <div class="navbar-nav">
                    {{ range .NavLinks }}
                    <a class="nav-link {{ if .Active }}active{{ end }} {{ if .External }}text-primary{{ end }}" href="{{ .URL }}">{{ .Name }}</a>
                    {{ end }}
                </div>
            </div>
        </nav>

        <main class="mt-4">
            <h1>{{ .Title }}</h1>
            <p class="lead">{{ .Description }}</p>

            {{ block "content" . }}{{ end }}
        </main>

        <footer class="text-center">
            <div>{{ .AppName }} {{ .Version }}</div>
            <div class="text-muted">Page rendered at {{ .Time }}</div>
        </footer>
    </div>
</body>
</html>
`

	tmpl, err := template.New("base").Funcs(funcs).Parse(baseTemplate)
	if err != nil {
		log.Printf("Error parsing template: %v", err)
		return nil
	}

	return tmpl
}

// renderTemplate renders a template with the provided data
func renderTemplate(w http.ResponseWriter, tmpl *template.Template, name string, data PageData) {
	if data.AppName == "" {
		data.AppName = "GoPanelGuard"
	}
	if data.Version == "" {
		data.Version = version.Version
	}
	if data.Time == "" {
		data.Time = time.Now().Format("2006-01-02 15:04:05")
	}
	if len(data.NavLinks) == 0 {
		data.NavLinks = make([]NavLink, len(commonNavLinks))
		copy(data.NavLinks, commonNavLinks)
	}

	for i := range data.NavLinks {
		if data.NavLinks[i].URL == name {
			data.NavLinks[i].Active = true
		}
	}

	buf := &bytes.Buffer{}
	err := tmpl.ExecuteTemplate(buf, "base", data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		log.Printf("Template error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
