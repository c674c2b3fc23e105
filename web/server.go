package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Server bundles the hub with the HTTP side of the viewer. The payload
// providers are optional; wire the ones the deployment needs.
type Server struct {
	Hub *Hub

	Scene   func() interface{} // /api/scene
	Devices func() interface{} // /api/devices
	Stats   func() interface{} // /api/stats

	// Extra routes, typically chart handlers.
	Extra map[string]http.Handler
}

func NewServer() *Server {
	return &Server{
		Hub: NewHub(),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api encode: %v", err)
	}
}

// Handler builds the route table. Split from Start so tests can drive
// it through httptest.
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})

	if s.Scene != nil {
		mux.HandleFunc("/api/scene", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.Scene())
		})
	}
	if s.Devices != nil {
		mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.Devices())
		})
	}
	if s.Stats != nil {
		mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.Stats())
		})
	}

	for pattern, h := range s.Extra {
		mux.Handle(pattern, h)
	}

	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}

	return mux
}

func (s *Server) Start(port int, distDir string) {
	go s.Hub.Run()

	addr := fmt.Sprintf(":%d", port)
	log.Printf("HTTP server listening on %s", addr)
	if err := http.ListenAndServe(addr, s.Handler(distDir)); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
