package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Games     int    `json:"games"`
	Players   int    `json:"players"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// HandleHealth serves the health probe on GET / and GET /health, and
// answers CORS preflights with an empty 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := healthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Games:     s.arenas.Count() + s.battles.Count(),
		Players:   s.registry.Count(),
		Uptime:    int64(s.clock.Since(s.startedAt) / time.Second),
		Timestamp: s.clock.Now().UnixMilli(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to write health response", "err", err)
	}
}
