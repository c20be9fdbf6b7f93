package offlinecache

import (
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// ResourceClass is the category of content a request asks for. It decides
// what the offline responder synthesizes when both network and cache fail.
type ResourceClass string

const (
	ClassDocument ResourceClass = "document"
	ClassScript   ResourceClass = "script"
	ClassStyle    ResourceClass = "style"
	ClassImage    ResourceClass = "image"
	ClassAPI      ResourceClass = "api"
)

// ClassifyResource derives the resource class of a request from its fetch
// metadata headers when present, else from the path extension, else from
// the Accept header.
func ClassifyResource(r *http.Request) ResourceClass {
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "document", "iframe", "frame":
		return ClassDocument
	case "script", "worker":
		return ClassScript
	case "style":
		return ClassStyle
	case "image":
		return ClassImage
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return ClassDocument
	}
	switch path.Ext(r.URL.Path) {
	case ".js", ".mjs":
		return ClassScript
	case ".css":
		return ClassStyle
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico":
		return ClassImage
	case ".html", ".htm":
		return ClassDocument
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return ClassAPI
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ClassDocument
	}
	return ClassAPI
}

// offlineDocument is the fixed fallback page for navigation requests.
// It is fully self-contained: no scripts, stylesheets or images are
// referenced, so it renders with nothing else cached.
const offlineDocument = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>You are offline</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f5f7; color: #1a1a2e; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
main { text-align: center; padding: 2rem; }
h1 { font-size: 1.5rem; }
button { background: #1a56db; color: #fff; border: 0; border-radius: 6px; padding: .75rem 1.5rem; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>Your assistant needs a connection for this page. Cached content stays available.</p>
<button onclick="window.location.reload()">Try again</button>
</main>
</body>
</html>
`

// transparentGIF is a 1x1 fully transparent GIF, served in place of
// images so a missing secondary resource never fails the primary page.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// unknownAPIPayload is the structured body for API requests the responder
// knows nothing about.
const unknownAPIPayload = `{"error":"service unreachable","offline":true}`

// syntheticPayloads holds literal last-known-good bodies for a small fixed
// set of read-only endpoints. The shapes are stable per endpoint so
// downstream UI code can branch on them deterministically.
var syntheticPayloads = map[string]string{
	"/api/health": `{"status":"offline","healthy":false,"service":"banking-assistant"}`,
	"/api/exchange-rates": `{"status":"offline","base":"EUR","asOf":null,` +
		`"rates":{"USD":1.09,"GBP":0.86,"CHF":0.95,"SEK":11.25,"NOK":11.70}}`,
}

// OfflineResponder synthesizes a response when both network and cache have
// failed for a request. It always produces some response; it never errors.
type OfflineResponder struct {
	log zerolog.Logger
}

func NewOfflineResponder(logger zerolog.Logger) *OfflineResponder {
	return &OfflineResponder{log: logger}
}

// Respond writes the synthesized fallback for the request.
func (o *OfflineResponder) Respond(w http.ResponseWriter, r *http.Request) {
	class := ClassifyResource(r)
	o.log.Debug().
		Str("url", r.URL.String()).
		Str("class", string(class)).
		Msg("Synthesizing offline response")

	cs := CacheStatus{}
	cs.Forward(FwdReasonMiss)
	cs.Detail(DetailSynthetic)
	w.Header().Set("Cache-Status", cs.String())

	switch class {
	case ClassDocument:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(offlineDocument))
	case ClassScript:
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	case ClassStyle:
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	case ClassImage:
		w.Header().Set("Content-Type", "image/gif")
		w.WriteHeader(http.StatusOK)
		w.Write(transparentGIF)
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if body, ok := syntheticPayloads[r.URL.Path]; ok {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(body))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(unknownAPIPayload))
	}
}
