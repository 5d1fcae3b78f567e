package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/packager/internal/build"
	"github.com/conneroisu/packager/internal/version"
)

// DebugSnapshot is the state reported by /debug/bundles.
type DebugSnapshot struct {
	Version         string                `json:"version"`
	Uptime          string                `json:"uptime"`
	Bundles         []build.EntryInfo     `json:"bundles"`
	Metrics         build.MetricsSnapshot `json:"metrics"`
	HMRListener     bool                  `json:"hmr_listener"`
	DeferredChanges int                   `json:"deferred_changes"`
	WaitingClients  int                   `json:"waiting_clients"`
}

func (s *Server) debugSnapshot() DebugSnapshot {
	return DebugSnapshot{
		Version:         version.GetShortVersion(),
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		Bundles:         s.cache.Entries(),
		Metrics:         s.cache.Metrics().GetSnapshot(),
		HMRListener:     s.tracker.HasHMRListener(),
		DeferredChanges: s.tracker.Deferred(),
		WaitingClients:  s.hub.Waiting(),
	}
}

func (s *Server) handleDebugBundles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.debugSnapshot())
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	templ.Handler(debugPage(s.debugSnapshot())).ServeHTTP(w, r)
}

// debugPage renders the cache overview.
func debugPage(snapshot DebugSnapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		metrics := snapshot.Metrics
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Packager</title></head>
<body>
<h1>Packager %s</h1>
<p id="uptime">Up %s</p>
<ul id="counters">
<li>builds: %d (%d failed)</li>
<li>cache hits: %d (%.1f%%)</li>
<li>average build: %s</li>
<li>hmr listener: %t, deferred changes: %d</li>
<li>waiting clients: %d</li>
</ul>
<table id="bundles">
<tr><th>entry</th><th>platform</th><th>state</th><th>stale</th><th>error</th></tr>
`,
			templ.EscapeString(snapshot.Version),
			templ.EscapeString(snapshot.Uptime),
			metrics.TotalBuilds, metrics.FailedBuilds,
			metrics.CacheHits, metrics.HitRate(),
			templ.EscapeString(metrics.AverageDuration.String()),
			snapshot.HMRListener, snapshot.DeferredChanges,
			snapshot.WaitingClients,
		); err != nil {
			return err
		}

		for _, entry := range snapshot.Bundles {
			if _, err := fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%t</td><td>%s</td></tr>\n",
				templ.EscapeString(entry.EntryFile),
				templ.EscapeString(entry.Platform),
				templ.EscapeString(string(entry.State)),
				entry.Stale,
				templ.EscapeString(entry.Error),
			); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, "</table>\n</body>\n</html>\n")
		return err
	})
}
