package server

import (
	"bytes"
)

// reloadScript connects to the live-reload endpoint. A reload message
// reloads the page; an error message shows an overlay with the failure.
const reloadScript = `<script>(function () {
  var url = (location.protocol === "https:" ? "wss://" : "ws://") + location.host + "` + reloadPath + `";
  var overlay = null;
  function showError(message) {
    if (!overlay) {
      overlay = document.createElement("pre");
      overlay.id = "tramline-error";
      overlay.style.cssText = "position:fixed;inset:0;margin:0;padding:2em;z-index:2147483647;" +
        "overflow:auto;background:rgba(24,24,27,.95);color:#fca5a5;font:14px/1.5 monospace;white-space:pre-wrap";
      document.body.appendChild(overlay);
    }
    overlay.textContent = message;
  }
  function connect() {
    var ws = new WebSocket(url);
    ws.onmessage = function (event) {
      var msg;
      try { msg = JSON.parse(event.data); } catch (e) { return; }
      if (msg.type === "reload") {
        location.reload();
      } else if (msg.type === "error") {
        showError(msg.message || "build failed");
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();</script>`

var headClose = []byte("</head>")

// InjectReloadScript inserts the live-reload client before the first
// </head>, matched case-insensitively. Documents without a head get the
// script appended.
func InjectReloadScript(doc []byte) []byte {
	idx := bytes.Index(bytes.ToLower(doc), headClose)
	if idx < 0 {
		out := make([]byte, 0, len(doc)+len(reloadScript))
		out = append(out, doc...)
		return append(out, reloadScript...)
	}

	out := make([]byte, 0, len(doc)+len(reloadScript))
	out = append(out, doc[:idx]...)
	out = append(out, reloadScript...)
	return append(out, doc[idx:]...)
}
