package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

var startTime = time.Now()

const bridgePingTimeout = 3 * time.Second

type healthResponse struct {
	Status     string  `json:"status"`
	Bridge     string  `json:"bridge"`
	Sessions   int     `json:"sessions"`
	WSClients  int     `json:"wsClients"`
	UptimeSecs int64   `json:"uptimeSecs"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{
		Status:     "ok",
		Bridge:     "offline",
		Sessions:   len(s.manager.States()),
		WSClients:  s.broadcaster.ClientCount(),
		UptimeSecs: int64(time.Since(startTime).Seconds()),
	}

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), bridgePingTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			resp.Bridge = "unreachable"
			resp.Status = "degraded"
		} else {
			resp.Bridge = "ok"
		}
	}

	// Process stats are best effort; the endpoint stays useful without them.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			resp.RSSBytes = mem.RSS
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
