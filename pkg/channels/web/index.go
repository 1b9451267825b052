package web

// indexHTML is the built-in single-page chat client. It talks the same
// websocket frame protocol as any decoupled UI would: send {"text": ...},
// receive typed frames (history, text, thinking, error, image, signal, done).
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Scholar</title>
<style>
  body { margin: 0; font-family: -apple-system, "Segoe UI", sans-serif; background: #111827; color: #e5e7eb; display: flex; flex-direction: column; height: 100vh; }
  header { padding: 12px 20px; background: #1f2937; font-weight: 600; }
  #log { flex: 1; overflow-y: auto; padding: 20px; }
  .msg { max-width: 780px; margin: 0 auto 14px; padding: 10px 14px; border-radius: 10px; white-space: pre-wrap; word-break: break-word; }
  .user { background: #2563eb; }
  .assistant { background: #1f2937; }
  .thinking { background: #1f2937; color: #9ca3af; font-style: italic; }
  .error { background: #7f1d1d; }
  .signal { color: #9ca3af; font-size: 12px; text-align: center; margin-bottom: 10px; }
  .msg img { max-width: 100%; border-radius: 6px; margin-top: 6px; }
  footer { display: flex; gap: 8px; padding: 14px 20px; background: #1f2937; }
  #input { flex: 1; padding: 10px; border-radius: 8px; border: 1px solid #374151; background: #111827; color: #e5e7eb; }
  button { padding: 10px 18px; border: 0; border-radius: 8px; background: #2563eb; color: white; cursor: pointer; }
  button:disabled { opacity: .5; }
</style>
</head>
<body>
<header>📚 Scholar Research Assistant</header>
<div id="log"></div>
<footer>
  <input id="input" placeholder="Ask a research question..." autofocus>
  <button id="send">Send</button>
</footer>
<script>
const log = document.getElementById("log");
const input = document.getElementById("input");
const send = document.getElementById("send");
const chat = new URLSearchParams(location.search).get("chat") || "global";
let current = null;
let signalEl = null;

function bubble(cls, text) {
  const el = document.createElement("div");
  el.className = "msg " + cls;
  if (text !== undefined) el.textContent = text;
  log.appendChild(el);
  log.scrollTop = log.scrollHeight;
  return el;
}

function clearSignal() {
  if (signalEl) { signalEl.remove(); signalEl = null; }
}

const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws?chat=" + encodeURIComponent(chat));

ws.onmessage = (event) => {
  const frame = JSON.parse(event.data);
  switch (frame.type) {
    case "history":
      for (const m of frame.data) {
        const cls = m.role === "user" ? "user" : "assistant";
        let text = "";
        for (const b of m.content || []) { if (b.type === "text") text += b.text; }
        if (text) bubble(cls, text);
      }
      break;
    case "text":
      clearSignal();
      if (!current) current = bubble("assistant", "");
      current.textContent += frame.text;
      break;
    case "thinking":
      clearSignal();
      bubble("thinking", frame.text);
      break;
    case "error":
      clearSignal();
      bubble("error", frame.text);
      break;
    case "image": {
      clearSignal();
      const el = current || bubble("assistant");
      const img = document.createElement("img");
      img.src = frame.url ? frame.url : "data:" + (frame.mime || "image/png") + ";base64," + frame.data;
      el.appendChild(img);
      break;
    }
    case "signal":
      clearSignal();
      signalEl = bubble("signal", frame.value === "thinking" ? "🤔 thinking..." : "🛠️ " + frame.value.replace("tool:", ""));
      signalEl.className = "signal";
      break;
    case "done":
      clearSignal();
      current = null;
      send.disabled = false;
      break;
  }
  log.scrollTop = log.scrollHeight;
};

function submit() {
  const text = input.value.trim();
  if (!text || ws.readyState !== WebSocket.OPEN) return;
  bubble("user", text);
  ws.send(JSON.stringify({ text }));
  input.value = "";
  current = null;
  send.disabled = true;
}

send.onclick = submit;
input.addEventListener("keydown", (e) => { if (e.key === "Enter") submit(); });
</script>
</body>
</html>
`
