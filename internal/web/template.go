package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/crank-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"deg": func(v float64) string {
		return fmt.Sprintf("%.1f°", v)
	},
	"rpm": func(v float64) string {
		return fmt.Sprintf("%.0f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Crank Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.err { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Crank Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Decoder</h2>
<table>
<tr><th>Synchronized</th><td id="sync-state" class="{{if .Synchronized}}on{{else}}off{{end}}">{{if .Synchronized}}YES{{else}}NO{{end}}</td></tr>
<tr><th>Ever synchronized</th><td>{{if .EverSynchronized}}yes{{else}}no{{end}}</td></tr>
<tr><th>RPM</th><td id="rpm">{{rpm .RPM}}</td></tr>
<tr><th>Engine angle</th><td>{{if .AngleValid}}{{deg .AngleDeg}}{{else}}—{{end}}</td></tr>
</table>

{{if .Cams}}<h2>Cams</h2>
<table>
{{range .Cams}}<tr><th>Bank {{.Bank}} cam {{.Cam}}</th><td>{{if .Valid}}{{deg .OffsetDeg}}{{else}}stale{{end}} ({{.Edges}} edges)</td></tr>
{{end}}</table>{{end}}

<h2>Counters</h2>
<table>
<tr><th>Primary rise</th><td>{{.Counters.PrimaryRise}}</td></tr>
<tr><th>Primary fall</th><td>{{.Counters.PrimaryFall}}</td></tr>
<tr><th>Secondary rise</th><td>{{.Counters.SecondaryRise}}</td></tr>
<tr><th>Secondary fall</th><td>{{.Counters.SecondaryFall}}</td></tr>
<tr><th>Noise rejected</th><td>{{.Counters.NoiseRejected}}</td></tr>
<tr><th>Decode errors</th><td class="{{if .Counters.DecodeErrors}}err{{end}}">{{.Counters.DecodeErrors}}</td></tr>
<tr><th>Sync losses</th><td class="{{if .Counters.SyncLosses}}err{{end}}">{{.Counters.SyncLosses}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Trigger</th><td>{{.Config.Preset}}</td></tr>
<tr><th>Noise filter</th><td>{{if .Config.NoiseFilter}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Stall timeout</th><td>{{.Config.StallTimeoutMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMin}}m</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var syncEl = document.getElementById("sync-state");
  var rpmEl = document.getElementById("rpm");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/events");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "disconnected");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        var state = msg.trigger || msg.status;
        if (state) {
          syncEl.textContent = state.synchronized ? "YES" : "NO";
          syncEl.className = state.synchronized ? "on" : "off";
          if (typeof state.rpm === "number") {
            rpmEl.textContent = state.rpm.toFixed(0);
          }
        }
      } catch (e) {}
    };
  }

  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
