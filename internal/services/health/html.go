package health

import (
	"fmt"
	"html/template"
	"io"
	"sort"
)

var dashboard = template.Must(template.New("health").Funcs(template.FuncMap{
	"bytes":   humanBytes,
	"percent": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"ms":      func(f float64) string { return fmt.Sprintf("%.2f ms", f) },
	"sorted":  sortedEndpoints,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="30">
<title>TrackMail health</title>
<style>
body{font-family:-apple-system,Segoe UI,Roboto,Arial,sans-serif;background:#f5f6f8;color:#222;margin:0;padding:24px}
h1{margin:0 0 16px}
.badge{display:inline-block;padding:2px 10px;border-radius:12px;color:#fff;font-size:14px}
.ok,.connected{background:#2e9b4f}.degraded,.disconnected{background:#c0392b}
.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(280px,1fr));gap:16px}
.card{background:#fff;border-radius:8px;padding:16px;box-shadow:0 1px 3px rgba(0,0,0,.08)}
table{width:100%;border-collapse:collapse}td{padding:4px 0;border-bottom:1px solid #eee}td:last-child{text-align:right}
</style>
</head>
<body>
<h1>TrackMail <span class="badge {{.Status}}">{{.Status}}</span></h1>
<p>Generated at {{.Timestamp.Format "2006-01-02 15:04:05 MST"}}</p>
<div class="grid">
<div class="card"><h2>Server</h2><table>
<tr><td>Uptime</td><td>{{.Server.Uptime}}</td></tr>
<tr><td>Started</td><td>{{.Server.StartedAt.Format "2006-01-02 15:04:05"}}</td></tr>
<tr><td>Go</td><td>{{.Server.GoVersion}}</td></tr>
<tr><td>PID</td><td>{{.Server.PID}}</td></tr>
<tr><td>Goroutines</td><td>{{.Server.Goroutines}}</td></tr>
<tr><td>RSS</td><td>{{bytes .Server.RSSBytes}}</td></tr>
<tr><td>CPU</td><td>{{percent .Server.CPUPercent}}</td></tr>
<tr><td>Storage</td><td>{{.Server.StorageDriver}}</td></tr>
<tr><td>Recording</td><td>{{.Server.RecordingMode}}</td></tr>
</table></div>
<div class="card"><h2>System</h2><table>
<tr><td>Host</td><td>{{.System.Hostname}}</td></tr>
<tr><td>OS</td><td>{{.System.OS}} {{.System.Platform}} {{.System.PlatformVersion}} ({{.System.Arch}})</td></tr>
<tr><td>CPUs</td><td>{{.System.CPUs}}</td></tr>
<tr><td>Load</td><td>{{printf "%.2f" .System.LoadAvg1}} / {{printf "%.2f" .System.LoadAvg5}} / {{printf "%.2f" .System.LoadAvg15}}</td></tr>
<tr><td>Memory</td><td>{{bytes .System.FreeMemory}} free of {{bytes .System.TotalMemory}}</td></tr>
<tr><td>Used</td><td>{{percent .System.UsedPercent}}</td></tr>
</table></div>
<div class="card"><h2>Go memory</h2><table>
<tr><td>Alloc</td><td>{{bytes .Memory.Alloc}}</td></tr>
<tr><td>Total alloc</td><td>{{bytes .Memory.TotalAlloc}}</td></tr>
<tr><td>Sys</td><td>{{bytes .Memory.Sys}}</td></tr>
<tr><td>Heap in use</td><td>{{bytes .Memory.HeapInUse}}</td></tr>
<tr><td>GC cycles</td><td>{{.Memory.NumGC}}</td></tr>
</table></div>
<div class="card"><h2>Database <span class="badge {{.Database.Status}}">{{.Database.Status}}</span></h2><table>
<tr><td>Ping</td><td>{{ms .Database.PingMs}}</td></tr>
<tr><td>Tracked mails</td><td>{{with .Database.TotalTrackings}}{{.}}{{else}}n/a{{end}}</td></tr>
{{with .Database.Error}}<tr><td>Error</td><td>{{.}}</td></tr>{{end}}
</table></div>
{{with .Cache}}<div class="card"><h2>Cache <span class="badge {{.Status}}">{{.Status}}</span></h2><table>
<tr><td>Ping</td><td>{{ms .PingMs}}</td></tr>
{{with .Error}}<tr><td>Error</td><td>{{.}}</td></tr>{{end}}
</table></div>{{end}}
<div class="card"><h2>Endpoints</h2><table>
{{range sorted .Endpoints}}<tr><td>{{.Name}}</td><td><code>{{.Route}}</code></td></tr>{{end}}
</table></div>
</div>
</body>
</html>
`))

// RenderHTML writes the report as a self-refreshing dashboard page.
func RenderHTML(w io.Writer, rep Report) error {
	return dashboard.Execute(w, rep)
}

type endpoint struct {
	Name  string
	Route string
}

func sortedEndpoints(m map[string]string) []endpoint {
	out := make([]endpoint, 0, len(m))
	for k, v := range m {
		out = append(out, endpoint{Name: k, Route: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
