package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/database"
	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
	"github.com/vincentbai/browsetrace-replay/internal/shell"
)

type Server struct {
	shell   *shell.Shell
	db      *database.Database
	hub     *Hub
	logger  *zap.Logger
	address string
	server  *http.Server

	// replays outlive the request that started them
	baseCtx context.Context
}

func NewServer(sh *shell.Shell, db *database.Database, address string, logger *zap.Logger) *Server {
	return &Server{
		shell:   sh,
		db:      db,
		hub:     NewHub(logger),
		logger:  logger,
		address: address,
		baseCtx: context.Background(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin accepts non-browser clients and pages served from loopback.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type errorResponse struct {
	Error string `json:"error"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type navigateRequest struct {
	URL string `json:"url"`
}

type archiveRequest struct {
	Name string `json:"name"`
}

type recordingStatus struct {
	Recording     bool   `json:"recording"`
	Events        int    `json:"events"`
	Status        string `json:"status"`
	URL           string `json:"url"`
	ReplayEnabled bool   `json:"replay_enabled"`
	ReplayRunning bool   `json:"replay_running"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeBody(w http.ResponseWriter, request *http.Request, v any) bool {
	if err := json.NewDecoder(request.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleEvents records events reported from outside the browser, such as an
// extension. Events are dropped unless recording is active.
func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	for _, event := range batch.Events {
		if !models.ValidEventType(event.Type) {
			writeError(w, http.StatusUnprocessableEntity, "invalid event type: "+string(event.Type))
			return
		}
	}
	rec := s.shell.Recorder()
	for _, event := range batch.Events {
		rec.Record(event.Type, event.Data)
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleNavigate(w http.ResponseWriter, request *http.Request) {
	var body navigateRequest
	if !decodeBody(w, request, &body) {
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	target, err := s.shell.NavigateTo(request.Context(), body.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, navigateRequest{URL: target})
}

func (s *Server) handleReload(w http.ResponseWriter, request *http.Request) {
	if err := s.shell.Reload(request.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status() recordingStatus {
	rec := s.shell.Recorder()
	return recordingStatus{
		Recording:     rec.IsRecording(),
		Events:        rec.Len(),
		Status:        s.shell.Status(),
		URL:           s.shell.CurrentURL(),
		ReplayEnabled: s.shell.ReplayEnabled(),
		ReplayRunning: s.shell.ReplayRunning(),
	}
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, _ *http.Request) {
	s.shell.StartRecording()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	s.shell.StopRecording()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSessionSave(w http.ResponseWriter, request *http.Request) {
	var body pathRequest
	if !decodeBody(w, request, &body) {
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.shell.SaveSession(body.Path); err != nil {
		if errors.Is(err, recorder.ErrNoSession) || errors.Is(err, shell.ErrSaveWhileRecording) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("Failed to save session", zap.String("path", body.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionLoad(w http.ResponseWriter, request *http.Request) {
	var body pathRequest
	if !decodeBody(w, request, &body) {
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	session, err := s.shell.LoadSession(body.Path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleReplay(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.shell.StartReplay(s.baseCtx); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReplayCancel(w http.ResponseWriter, _ *http.Request) {
	if !s.shell.CancelReplay() {
		writeError(w, http.StatusConflict, "no replay in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplayWS(w http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(w, request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := s.hub.AddClient(conn)
	defer s.hub.RemoveClient(c)

	// Reading detects the close; clients have nothing to say.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.shell.Log())
}

func (s *Server) handleArchiveList(w http.ResponseWriter, _ *http.Request) {
	summaries, err := s.db.ListSessions()
	if err != nil {
		s.logger.Error("Database error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleArchiveSave(w http.ResponseWriter, request *http.Request) {
	var body archiveRequest
	if !decodeBody(w, request, &body) {
		return
	}
	if s.shell.Recorder().IsRecording() {
		writeError(w, http.StatusConflict, shell.ErrSaveWhileRecording.Error())
		return
	}
	session := s.shell.Recorder().Session()
	if session.StartTime.IsZero() {
		writeError(w, http.StatusConflict, recorder.ErrNoSession.Error())
		return
	}
	id, err := s.db.SaveSession(body.Name, session)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleArchiveLoad(w http.ResponseWriter, request *http.Request) {
	session, err := s.db.LoadSession(request.PathValue("id"))
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Database error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	s.shell.UseSession(session)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleArchiveDelete(w http.ResponseWriter, request *http.Request) {
	err := s.db.DeleteSession(request.PathValue("id"))
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Database error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("POST /navigate", s.handleNavigate)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("GET /recording", s.handleRecordingStatus)
	mux.HandleFunc("POST /recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /sessions/save", s.handleSessionSave)
	mux.HandleFunc("POST /sessions/load", s.handleSessionLoad)
	mux.HandleFunc("POST /replay", s.handleReplay)
	mux.HandleFunc("POST /replay/cancel", s.handleReplayCancel)
	mux.HandleFunc("GET /replay/ws", s.handleReplayWS)
	mux.HandleFunc("GET /log", s.handleLog)
	if s.db != nil {
		mux.HandleFunc("GET /archive", s.handleArchiveList)
		mux.HandleFunc("POST /archive", s.handleArchiveSave)
		mux.HandleFunc("POST /archive/{id}/load", s.handleArchiveLoad)
		mux.HandleFunc("DELETE /archive/{id}", s.handleArchiveDelete)
	}
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:        s.address,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	notifications, unsubscribe := s.shell.Subscribe()
	defer unsubscribe()
	go s.hub.Run(ctx, notifications)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("BrowserTrace replay listening", zap.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}

	s.logger.Info("Server exited")
	return nil
}
