package viewer

import "net/http"

// Page serves a minimal browser client for the /ws feed.
func Page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

const page = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Transcript Viewer</title>
<style>
body { font-family: sans-serif; margin: 2em; }
#live { color: #888; font-style: italic; min-height: 1.5em; }
.chunk { margin: .4em 0; }
.speaker { font-weight: bold; margin-right: .5em; }
</style>
</head>
<body>
<h1>Transcript Viewer</h1>
<div id="live"></div>
<div id="chunks"></div>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => {
  const m = JSON.parse(e.data);
  const p = m.payload;
  if (p.type === "transcript") {
    document.getElementById("live").textContent = "[" + p.speaker + "] " + p.text;
  } else if (p.type === "chunk") {
    const div = document.createElement("div");
    div.className = "chunk";
    div.innerHTML = '<span class="speaker">Speaker ' + p.chunk.speaker + '</span>';
    div.appendChild(document.createTextNode(p.chunk.text));
    document.getElementById("chunks").appendChild(div);
  }
};
</script>
</body>
</html>
`
