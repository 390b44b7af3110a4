package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - stampede report</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
  :root {
    --bg: #f8fafc;
    --card: #ffffff;
    --text: #1e293b;
    --muted: #64748b;
    --border: #e2e8f0;
    --accent: #3b82f6;
    --ok: #22c55e;
    --warn: #f59e0b;
    --bad: #ef4444;
  }
  @media (prefers-color-scheme: dark) {
    :root {
      --bg: #0f172a;
      --card: #1e293b;
      --text: #f1f5f9;
      --muted: #94a3b8;
      --border: #334155;
    }
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: var(--bg); color: var(--text); line-height: 1.5; }
  main { max-width: 1280px; margin: 0 auto; padding: 2rem; }
  header, section { background: var(--card); border: 1px solid var(--border); border-radius: 10px; padding: 1.5rem; margin-bottom: 1.5rem; }
  header { display: flex; justify-content: space-between; align-items: center; flex-wrap: wrap; gap: 1rem; }
  h1 { font-size: 1.6rem; }
  h2 { font-size: 1.15rem; margin-bottom: 1rem; }
  .meta { color: var(--muted); font-size: 0.875rem; display: flex; gap: 1.5rem; flex-wrap: wrap; }
  .badge { padding: 0.5rem 1.25rem; border-radius: 8px; font-weight: 600; }
  .badge.pass { color: var(--ok); border: 1px solid var(--ok); }
  .badge.fail { color: var(--bad); border: 1px solid var(--bad); }
  .badge.aborted { color: var(--warn); border: 1px solid var(--warn); }
  .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(170px, 1fr)); gap: 1rem; }
  .metric { border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
  .metric .label { color: var(--muted); font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.04em; }
  .metric .value { font-size: 1.4rem; font-weight: 700; }
  table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
  th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid var(--border); }
  th { color: var(--muted); font-weight: 600; }
  td.pass { color: var(--ok); }
  td.fail { color: var(--bad); }
  .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(520px, 1fr)); gap: 1.5rem; }
  .chart { position: relative; height: 280px; }
  ul.warnings { margin-left: 1.25rem; color: var(--warn); }
  footer { text-align: center; color: var(--muted); font-size: 0.8rem; padding: 1rem; }
</style>
</head>
<body>
<main>
<header>
  <div>
    <h1>{{.Title}}</h1>
    <div class="meta">
      <span>Started {{.StartTime.Format "2006-01-02 15:04:05 MST"}}</span>
      <span>Duration {{formatDuration .DurationMs}}</span>
      <span>Max users {{.Config.MaxConcurrentUsers}}</span>
      <span>Peak users {{.PeakUsers}}</span>
      {{if .Config.UseCluster}}<span>Workers {{.Config.WorkerCount}}</span>{{end}}
    </div>
  </div>
  {{if .Aborted}}<span class="badge aborted">ABORTED</span>
  {{else if .Passed}}<span class="badge pass">PASSED</span>
  {{else}}<span class="badge fail">FAILED</span>{{end}}
</header>

<section>
  <h2>Summary</h2>
  <div class="grid">
    <div class="metric"><div class="label">Requests</div><div class="value">{{formatNumber .Summary.TotalRequests}}</div></div>
    <div class="metric"><div class="label">Failed</div><div class="value">{{formatNumber .Summary.FailedRequests}}</div></div>
    <div class="metric"><div class="label">Error rate</div><div class="value">{{formatPct .Summary.ErrorRatePct}}</div></div>
    <div class="metric"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .Summary.RequestsPerSecond}}/s</div></div>
    <div class="metric"><div class="label">Mean</div><div class="value">{{formatMillis .Summary.AverageResponseTimeMs}}</div></div>
    <div class="metric"><div class="label">Median</div><div class="value">{{formatMillis .Summary.MedianResponseTimeMs}}</div></div>
    <div class="metric"><div class="label">p95</div><div class="value">{{formatMillis .Summary.P95}}</div></div>
    <div class="metric"><div class="label">p99</div><div class="value">{{formatMillis .Summary.P99}}</div></div>
    <div class="metric"><div class="label">Peak heap</div><div class="value">{{formatBytes .PeakHeap}}</div></div>
    <div class="metric"><div class="label">Memory trend</div><div class="value">{{.MemoryTrend.Trend}}</div></div>
  </div>
  {{if .Summary.ErrorKinds}}
  <table style="margin-top:1rem">
    <tr><th>Error kind</th><th>Count</th></tr>
    {{range $kind, $n := .Summary.ErrorKinds}}<tr><td>{{$kind}}</td><td>{{formatNumber $n}}</td></tr>{{end}}
  </table>
  {{end}}
</section>

{{if .Warnings}}
<section>
  <h2>Warnings</h2>
  <ul class="warnings">{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>
</section>
{{end}}

<section>
  <h2>Timeline</h2>
  <div class="charts">
    <div class="chart"><canvas id="throughput"></canvas></div>
    <div class="chart"><canvas id="latency"></canvas></div>
    <div class="chart"><canvas id="users"></canvas></div>
    <div class="chart"><canvas id="resources"></canvas></div>
  </div>
</section>

{{if .PhaseSummaries}}
<section>
  <h2>Phases</h2>
  <table>
    <tr><th>Phase</th><th>Requests</th><th>Error rate</th><th>Mean</th><th>p95</th><th>p99</th><th>RPS</th></tr>
    {{range $name, $s := .PhaseSummaries}}
    <tr>
      <td>{{$name}}</td><td>{{formatNumber $s.TotalRequests}}</td><td>{{formatPct $s.ErrorRatePct}}</td>
      <td>{{formatMillis $s.AverageResponseTimeMs}}</td><td>{{formatMillis $s.P95}}</td><td>{{formatMillis $s.P99}}</td>
      <td>{{printf "%.1f" $s.RequestsPerSecond}}</td>
    </tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Scenarios}}
<section>
  <h2>Scenarios</h2>
  <table>
    <tr><th>Name</th><th>Weight</th><th>Requests</th><th>Success</th><th>Mean</th><th>p95</th><th>Status</th></tr>
    {{range .Scenarios}}
    <tr>
      <td>{{.Name}}</td><td>{{.Weight}}</td><td>{{formatNumber .Summary.TotalRequests}}</td>
      <td>{{formatPct (pct .Summary.SuccessRate)}}</td><td>{{formatMillis .Summary.AverageResponseTimeMs}}</td>
      <td>{{formatMillis .Summary.P95}}</td>
      {{if .Passed}}<td class="pass">pass</td>{{else}}<td class="fail">{{range .Messages}}{{.}} {{end}}</td>{{end}}
    </tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Thresholds}}
<section>
  <h2>Thresholds</h2>
  <table>
    <tr><th>Expression</th><th>Actual</th><th>Result</th></tr>
    {{range .Thresholds}}
    <tr><td>{{.Expression}}</td><td>{{.Value}}</td>{{if .Passed}}<td class="pass">pass</td>{{else}}<td class="fail">fail</td>{{end}}</tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Regressions}}
<section>
  <h2>Regressions</h2>
  <table>
    <tr><th>Metric</th><th>Baseline</th><th>Current</th><th>Change</th></tr>
    {{range .Regressions}}
    <tr><td>{{.Metric}}</td><td>{{printf "%.2f" .Baseline}}</td><td>{{printf "%.2f" .Current}}</td><td class="fail">{{formatPct .ChangePct}}</td></tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .LoadShedEvents}}
<section>
  <h2>Load shedding</h2>
  <table>
    <tr><th>Time</th><th>Phase</th><th>Resource</th><th>Value</th><th>Limit</th><th>Users</th><th>Shed</th></tr>
    {{range .LoadShedEvents}}
    <tr>
      <td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Phase}}</td><td>{{.Resource}}</td>
      <td>{{printf "%.1f" .Value}}</td><td>{{printf "%.1f" .Limit}}</td><td>{{.ActiveUsers}}</td><td>{{.Shed}}</td>
    </tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Workers}}
<section>
  <h2>Workers</h2>
  <table>
    <tr><th>#</th><th>ID</th><th>Users</th><th>Measurements</th><th>State</th></tr>
    {{range .Workers}}
    <tr>
      <td>{{.Index}}</td><td>{{.ID}}</td><td>{{.Users}}</td><td>{{.Measurements}}</td>
      {{if eq .State "failed"}}<td class="fail">failed: {{.Error}}</td>{{else}}<td>{{.State}}</td>{{end}}
    </tr>
    {{end}}
  </table>
</section>
{{end}}

<section>
  <h2>System</h2>
  <table>
    <tr><th>Host</th><td>{{.SystemInfo.Hostname}}</td></tr>
    <tr><th>Platform</th><td>{{.SystemInfo.OS}}/{{.SystemInfo.Arch}} {{.SystemInfo.Platform}} {{.SystemInfo.PlatformVersion}}</td></tr>
    <tr><th>CPUs</th><td>{{.SystemInfo.CPUs}}</td></tr>
    <tr><th>Memory</th><td>{{formatBytes .SystemInfo.TotalMemory}}</td></tr>
    <tr><th>Go</th><td>{{.SystemInfo.GoVersion}}</td></tr>
    <tr><th>Recorded requests</th><td>{{.RequestSamples}} (+{{.WarmupRequests}} warmup)</td></tr>
  </table>
</section>

<footer>Report {{.ID}} generated by stampede</footer>
</main>

<script>
(function () {
  const series = {{.ChartJSON}};
  const resources = {{.ResourceJSON}};
  const time = p => new Date(p.t).toLocaleTimeString();

  function line(id, labels, datasets, yTitle) {
    new Chart(document.getElementById(id), {
      type: 'line',
      data: { labels: labels, datasets: datasets },
      options: {
        responsive: true,
        maintainAspectRatio: false,
        animation: false,
        elements: { point: { radius: 0 } },
        interaction: { mode: 'index', intersect: false },
        scales: { y: { beginAtZero: true, title: { display: true, text: yTitle } } }
      }
    });
  }

  const labels = series.map(time);
  line('throughput', labels, [
    { label: 'req/s', data: series.map(p => p.rps), borderColor: '#3b82f6' },
    { label: 'error %', data: series.map(p => p.errorRate), borderColor: '#ef4444' }
  ], 'per second / %');
  line('latency', labels, [
    { label: 'p50', data: series.map(p => p.p50), borderColor: '#22c55e' },
    { label: 'p95', data: series.map(p => p.p95), borderColor: '#f59e0b' },
    { label: 'p99', data: series.map(p => p.p99), borderColor: '#ef4444' }
  ], 'ms');
  line('users', labels, [
    { label: 'active users', data: series.map(p => p.activeUsers), borderColor: '#8b5cf6', stepped: true }
  ], 'users');
  line('resources', resources.map(time), [
    { label: 'heap MB', data: resources.map(p => p.heapMB), borderColor: '#0ea5e9' },
    { label: 'cpu %', data: resources.map(p => p.cpuPct), borderColor: '#f97316' }
  ], 'MB / %');
})();
</script>
</body>
</html>
`
