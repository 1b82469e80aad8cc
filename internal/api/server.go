// Package api exposes the cache over HTTP: JSON endpoints mirroring
// the engine's operations, plus a server-sent-events stream that relays
// bus events to connected clients.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loamdev/loam/internal/engine"
)

// NewServer creates and configures the HTTP server for the Loam API.
func NewServer(eng *engine.Engine, baseDir, version, bind string, port int) *http.Server {
	h := &Handlers{
		engine:  eng,
		baseDir: baseDir,
		version: version,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /api/threads", h.HandleThreadList)
	mux.HandleFunc("POST /api/threads/more", h.HandleThreadLoadMore)
	mux.HandleFunc("PATCH /api/threads/{id}", h.HandleThreadPatch)
	mux.HandleFunc("DELETE /api/threads/{id}", h.HandleThreadDelete)
	mux.HandleFunc("POST /api/threads/{id}/branch", h.HandleThreadBranch)
	mux.HandleFunc("GET /api/threads/{id}/messages", h.HandleThreadMessages)
	mux.HandleFunc("POST /api/threads/{id}/messages", h.HandleMessageAppend)
	mux.HandleFunc("DELETE /api/messages/{id}/attachments/{publicID}", h.HandleAttachmentPrune)
	mux.HandleFunc("GET /api/projects", h.HandleProjectList)
	mux.HandleFunc("POST /api/projects", h.HandleProjectCreate)
	mux.HandleFunc("PATCH /api/projects/{id}", h.HandleProjectPatch)
	mux.HandleFunc("DELETE /api/projects/{id}", h.HandleProjectDelete)
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("POST /api/export", h.HandleExport)
	mux.HandleFunc("POST /api/import", h.HandleImport)
	mux.HandleFunc("GET /api/events", h.HandleEvents)

	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("Loam API running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
