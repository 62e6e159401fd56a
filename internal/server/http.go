package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"

	"github.com/morezero/component-runtime/pkg/catalog"
)

// catalogForServer is the subset of *catalog.Catalog the HTTP handlers use.
type catalogForServer interface {
	Health(ctx context.Context) *catalog.HealthOutput
	List(ctx context.Context, input *catalog.ListInput) ([]catalog.Endpoint, error)
}

// linkStatus reports client proxy links by name.
type linkStatus interface {
	ClientStatus() map[string]bool
}

// healthResponse is the /health body.
type healthResponse struct {
	*catalog.HealthOutput
	Clients map[string]bool `json:"clients,omitempty"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/endpoints", s.handleEndpoints())
	return mux
}

func (s *Server) clientStatus() map[string]bool {
	if s.links == nil {
		return nil
	}
	return s.links.ClientStatus()
}

// handleHealth reports the catalog store and every client link. A down store
// answers 503; an inactive link marks the process degraded.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		out := healthResponse{HealthOutput: s.catalog.Health(ctx), Clients: s.clientStatus()}
		if out.Status == "healthy" {
			for _, active := range out.Clients {
				if !active {
					out.Status = "degraded"
					break
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(out)
	}
}

// handleEndpoints lists catalog entries as JSON. Query parameters component,
// interface, transport and status filter the list.
func (s *Server) handleEndpoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		q := r.URL.Query()
		list, err := s.catalog.List(ctx, &catalog.ListInput{
			Component: q.Get("component"),
			Interface: q.Get("interface"),
			Transport: q.Get("transport"),
			Status:    q.Get("status"),
		})
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(err)
			return
		}
		if list == nil {
			list = []catalog.Endpoint{}
		}
		json.NewEncoder(w).Encode(map[string]any{"endpoints": list})
	}
}

// homePageTemplate is the HTML for the runtime home page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Component Runtime</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-degraded, .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 1000px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Component Runtime</h1>
  <p class="meta">Exposed interfaces, client links and catalog health. JSON at <a href="/endpoints">/endpoints</a> and <a href="/health">/health</a>.</p>

  <section>
    <h2>Health</h2>
    <p>Store: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Client links</h2>
    {{if not .Clients}}
    <p>No client proxies.</p>
    {{else}}
    <table>
      <thead><tr><th>Client</th><th>Link</th></tr></thead>
      <tbody>
        {{range .Clients}}
        <tr><td>{{.Name}}</td><td>{{if .Active}}active{{else}}<span class="error">inactive</span>{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Endpoints</h2>
    {{if .ListError}}
    <p class="error">Could not load catalog: {{.ListError}}</p>
    {{else if not .Endpoints}}
    <p>No endpoints registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Component</th><th>Interface</th><th>Transport</th><th>Address</th><th>Version</th><th>Status</th><th>Commands</th></tr>
      </thead>
      <tbody>
        {{range .Endpoints}}
        <tr>
          <td>{{.Component}}</td>
          <td>{{.Interface}}</td>
          <td>{{.Transport}}</td>
          <td>{{.Address}}</td>
          <td>{{.Version}}</td>
          <td>{{.Status}}{{if not .Healthy}} (unhealthy){{end}}</td>
          <td>{{range $i, $c := .Commands}}{{if $i}}, {{end}}{{$c}}{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

type clientRow struct {
	Name   string
	Active bool
}

// homeData is the data passed to the home page template.
type homeData struct {
	Health    *catalog.HealthOutput
	Clients   []clientRow
	Endpoints []catalog.Endpoint
	ListError string
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.catalog.Health(ctx)}
		for name, active := range s.clientStatus() {
			data.Clients = append(data.Clients, clientRow{Name: name, Active: active})
		}
		sort.Slice(data.Clients, func(i, j int) bool { return data.Clients[i].Name < data.Clients[j].Name })

		list, err := s.catalog.List(ctx, &catalog.ListInput{Status: "all"})
		if err != nil {
			data.ListError = err.Error()
		} else {
			data.Endpoints = list
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
