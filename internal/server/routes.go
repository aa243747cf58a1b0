package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (middleware bypassed, see withConditionalMiddleware)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id} and subpaths

	// API routes - Chat sessions
	mux.HandleFunc("/api/chat/sessions", s.app.ChatHandler.OpenSessionHandler) // POST
	mux.HandleFunc("/api/chat/sessions/", s.handleChatRoutes)                  // GET /{id}, POST /{id}/messages

	// API routes - Label artifacts by stored reference
	mux.HandleFunc("/api/labels/", s.app.LabelsHandler.GetLabelHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/ready", s.app.APIHandler.ReadyHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute dispatches the collection endpoint by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if suffix == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	jobID := suffix
	action := ""
	if idx := strings.Index(suffix, "/"); idx > 0 {
		jobID = suffix[:idx]
		action = suffix[idx+1:]
	}

	switch {
	case action == "" && r.Method == "GET":
		s.app.JobHandler.GetJobHandler(w, r, jobID)

	case action == "preview" && r.Method == "POST":
		s.app.JobHandler.PreviewHandler(w, r, jobID)

	case action == "confirm" && r.Method == "POST":
		s.app.JobHandler.ConfirmHandler(w, r, jobID)

	case action == "execute" && r.Method == "POST":
		s.app.JobHandler.ExecuteHandler(w, r, jobID)

	case action == "cancel" && r.Method == "POST":
		s.app.JobHandler.CancelHandler(w, r, jobID)

	case action == "rows" && r.Method == "GET":
		s.app.JobHandler.RowsHandler(w, r, jobID)

	case action == "audit" && r.Method == "GET":
		s.app.JobHandler.AuditHandler(w, r, jobID)

	case action == "events" && r.Method == "GET":
		s.app.SSEHandler.StreamJobEvents(w, r, jobID)

	case action == "labels/merged" && r.Method == "GET":
		s.app.LabelsHandler.MergedPDFHandler(w, r, jobID)

	case action == "labels/archive" && r.Method == "GET":
		s.app.LabelsHandler.ArchiveHandler(w, r, jobID)

	case action == "manifest" && r.Method == "GET":
		s.app.LabelsHandler.ManifestHandler(w, r, jobID)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleChatRoutes routes /api/chat/sessions/{id} and its subpaths
func (s *Server) handleChatRoutes(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/api/chat/sessions/")
	if suffix == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	sessionID := suffix
	action := ""
	if idx := strings.Index(suffix, "/"); idx > 0 {
		sessionID = suffix[:idx]
		action = suffix[idx+1:]
	}

	switch {
	case action == "" && r.Method == "GET":
		s.app.ChatHandler.GetSessionHandler(w, r, sessionID)

	case action == "messages" && r.Method == "POST":
		s.app.ChatHandler.PostMessageHandler(w, r, sessionID)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
