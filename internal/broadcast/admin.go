package broadcast

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/packcam/internal/httputil"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var eventsTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/events.html.tmpl"))

// AttachAdminRoutes attaches the live event tail and subscriber listing to
// the debug pages served under /debug/. These routes are only reachable from
// localhost or over Tailscale.
func (b *Broadcaster) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("events", "live status event tail", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := eventsTemplate.Execute(buf, map[string]int{"Subscribers": b.Count()}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleFunc("subscribers", "connected status subscribers", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, b.Subscribers())
	})

	// Server-Sent Events stream of every published event.
	debug.HandleSilentFunc("events-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case e, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
