// Package transferserver implements the receiving side of a transfer: the
// HTTP endpoints, the pending-transfer state machine, token-gated chunk
// writes, and the SSE event stream.
package transferserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lanxfer/internal/events"
	"lanxfer/internal/history"
	"lanxfer/internal/logging"
	"lanxfer/internal/models"
)

const (
	appName    = "lanxfer"
	appVersion = "1.0"
	// progressThresholdBytes is the minimum accumulation between Progress
	// events for a given file; the final event for a file may follow a
	// smaller accumulation.
	progressThresholdBytes = 32 * 1024
	readBufferSize         = 64 * 1024
	maxCollisionAttempts   = 999
)

// Server owns the listening socket and all server-side transfer state. A
// single mutex, mu, guards every map and setting below, so no acquisition
// order between separate locks arises.
type Server struct {
	mu sync.RWMutex

	port        int
	deviceName  string
	downloadDir string
	trustedHosts map[string]struct{}

	pending        map[string]*models.PendingTransfer
	approvedTokens map[string]string // transfer_id -> token
	rejected       map[string]string // transfer_id -> reason
	receivedFiles  map[string]map[string]struct{} // transfer_id -> file_id set
	cancelled      map[string]struct{}

	bus     *events.Bus
	history *history.Log
	logger  *logging.Logger

	httpSrv  *http.Server
	listener net.Listener
}

// Config bundles the construction-time dependencies for a Server.
type Config struct {
	Port         int
	DeviceName   string
	DownloadDir  string
	TrustedHosts []string
	Bus          *events.Bus
	History      *history.Log
	Logger       *logging.Logger
}

// New builds a Server in the stopped state.
func New(cfg Config) *Server {
	trusted := make(map[string]struct{}, len(cfg.TrustedHosts))
	for _, h := range cfg.TrustedHosts {
		trusted[h] = struct{}{}
	}
	return &Server{
		port:           cfg.Port,
		deviceName:     cfg.DeviceName,
		downloadDir:    cfg.DownloadDir,
		trustedHosts:   trusted,
		pending:        make(map[string]*models.PendingTransfer),
		approvedTokens: make(map[string]string),
		rejected:       make(map[string]string),
		receivedFiles:  make(map[string]map[string]struct{}),
		cancelled:      make(map[string]struct{}),
		bus:            cfg.Bus,
		history:        cfg.History,
		logger:         cfg.Logger,
	}
}

// SetTrustedHosts replaces the trusted-host set, taking effect immediately.
func (s *Server) SetTrustedHosts(hosts []string) {
	trusted := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		trusted[h] = struct{}{}
	}
	s.mu.Lock()
	s.trustedHosts = trusted
	s.mu.Unlock()
}

// SetDownloadDir updates the directory new writes land in; in-flight
// uploads are unaffected.
func (s *Server) SetDownloadDir(dir string) {
	s.mu.Lock()
	s.downloadDir = dir
	s.mu.Unlock()
}

// Handler returns the server's HTTP handler without binding a listener,
// letting callers (tests, or an embedder that wants its own net.Listener)
// drive it directly.
func (s *Server) Handler() http.Handler {
	return s.mux()
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/transfer", s.handleOffer)
	mux.HandleFunc("/transfer/status", s.handleStatus)
	mux.HandleFunc("/chunk", s.handleChunk)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start binds 0.0.0.0:port and begins serving. It returns once the listener
// is bound; request handling happens in a background goroutine. Port 0
// asks the OS for a free port; Port() reflects the bound port afterward.
func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return netErrorf("bind: %v", err)
	}
	s.listener = ln
	s.mu.Lock()
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()
	s.httpSrv = &http.Server{Handler: s.mux()}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error().Err(err).Msg("transfer server stopped unexpectedly")
			}
		}
	}()
	s.bus.Publish(events.Event{Kind: events.KindServerStarted, Port: s.Port()})
	return nil
}

// Stop closes the listener and waits, until ctx is done, for in-flight
// requests to finish. In-flight chunk uploads are not aborted; only Cancel
// stops a running upload.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.bus.Publish(events.Event{Kind: events.KindServerStopped})
	return err
}

// Port returns the listening port, resolved to the actual bound port once
// Start has run.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

func netErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// ---- GET /health, GET /info ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"app":    appName,
		"version": appVersion,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	name := s.deviceName
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    name,
		"version": appVersion,
		"app":     appName,
	})
}

// ---- POST /transfer ----

type offerResponse struct {
	Accepted bool    `json:"accepted"`
	Message  string  `json:"message"`
	Token    *string `json:"token"`
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	computedTotal := int64(0)
	for _, f := range req.Files {
		computedTotal += f.Size
	}
	if computedTotal != req.TotalSize && s.logger != nil {
		s.logger.Warn().
			Str("transfer_id", req.TransferID).
			Int64("declared_total", req.TotalSize).
			Int64("computed_total", computedTotal).
			Msg("offer total_size disagrees with sum of file sizes; using computed total")
	}

	sourceIP := sourceIPOf(r)

	pt := &models.PendingTransfer{
		ID:         req.TransferID,
		SourceIP:   sourceIP,
		SenderName: req.SenderName,
		Files:      req.Files,
		TotalSize:  computedTotal,
		ReceivedAt: time.Now(),
	}

	s.mu.Lock()
	s.pending[pt.ID] = pt
	_, trusted := s.trustedHosts[sourceIP]
	s.mu.Unlock()

	if trusted {
		token := uuid.New().String()
		s.mu.Lock()
		s.approvedTokens[pt.ID] = token
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, offerResponse{Accepted: true, Message: "auto-accepted (trusted host)", Token: &token})
		return
	}

	s.bus.Publish(events.Event{Kind: events.KindTransferRequest, TransferID: pt.ID, Transfer: pt})
	writeJSON(w, http.StatusOK, offerResponse{Accepted: false, Message: "Awaiting user approval"})
}

func sourceIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---- GET /transfer/status ----

type statusResponse struct {
	Status  models.ApprovalStatus `json:"status"`
	Token   *string                `json:"token"`
	Message string                 `json:"message,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transfer_id")
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token, ok := s.approvedTokens[id]; ok {
		t := token
		writeJSON(w, http.StatusOK, statusResponse{Status: models.StatusAccepted, Token: &t})
		return
	}
	if reason, ok := s.rejected[id]; ok {
		writeJSON(w, http.StatusOK, statusResponse{Status: models.StatusRejected, Message: reason})
		return
	}
	if _, ok := s.pending[id]; ok {
		writeJSON(w, http.StatusOK, statusResponse{Status: models.StatusPending})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: models.StatusNotFound})
}

// ---- accept / reject (engine-facing, not HTTP) ----

// Accept moves a pending transfer into the approved state, idempotently.
// The entry stays in pending (chunk handling still needs files[]).
func (s *Server) Accept(id string) (token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.approvedTokens[id]; ok {
		return tok, nil
	}
	if _, ok := s.pending[id]; !ok {
		return "", fmt.Errorf("not found")
	}
	tok := uuid.New().String()
	s.approvedTokens[id] = tok
	return tok, nil
}

// Reject marks a transfer rejected and removes it from pending. Double
// rejection is a no-op.
func (s *Server) Reject(id, reason string) error {
	s.mu.Lock()
	if _, already := s.rejected[id]; already {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("not found")
	}
	s.rejected[id] = reason
	delete(s.pending, id)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindTransferFailed, TransferID: id, Error: "rejected"})
	if s.history != nil {
		s.history.Add(models.TransferRecord{
			ID:        id,
			Direction: models.DirectionReceived,
			Status:    models.TransferRejectedStatus,
			StartedAt: time.Now(),
		})
	}
	return nil
}

// Cancel removes id from the pending/approved maps and marks it cancelled
// so any in-flight chunk handler aborts its next write. Cancelling an
// unknown id is a no-op.
func (s *Server) Cancel(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	delete(s.approvedTokens, id)
	delete(s.receivedFiles, id)
	s.cancelled[id] = struct{}{}
	s.mu.Unlock()
}

// Pending returns a snapshot of the current pending registry.
func (s *Server) Pending() []models.PendingTransfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PendingTransfer, 0, len(s.pending))
	for _, pt := range s.pending {
		out = append(out, *pt)
	}
	return out
}

// ExpirePendingOlderThan rejects any pending offer older than d. It is
// never called automatically; a caller opts in by invoking it on its own
// schedule.
func (s *Server) ExpirePendingOlderThan(d time.Duration) {
	cutoff := time.Now().Add(-d)
	s.mu.RLock()
	var expired []string
	for id, pt := range s.pending {
		if pt.ReceivedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range expired {
		_ = s.Reject(id, "expired")
	}
}

// ---- POST /chunk ----

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	transferID := r.URL.Query().Get("transfer_id")
	fileID := r.URL.Query().Get("file_id")
	token := r.URL.Query().Get("token")

	s.mu.RLock()
	expectedToken, hasToken := s.approvedTokens[transferID]
	s.mu.RUnlock()
	if !hasToken || subtle.ConstantTimeCompare([]byte(expectedToken), []byte(token)) != 1 {
		writeJSONError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	s.mu.RLock()
	pt, ok := s.pending[transferID]
	s.mu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "transfer not found")
		return
	}

	var file *models.TransferFile
	for i := range pt.Files {
		if pt.Files[i].ID == fileID {
			file = &pt.Files[i]
			break
		}
	}
	if file == nil {
		writeJSONError(w, http.StatusNotFound, "file not found in offer")
		return
	}

	s.mu.RLock()
	downloadDir := s.downloadDir
	s.mu.RUnlock()

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not create download directory")
		return
	}

	storedName, f, err := createCollisionFree(downloadDir, safeFilename(file.Name, file.ID))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bytesReceived, writeErr := s.streamChunk(r.Context(), f, r.Body, transferID, fileID, storedName, file.Size)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		switch writeErr {
		case errTooLarge:
			os.Remove(filepath.Join(downloadDir, storedName))
			writeJSONError(w, http.StatusRequestEntityTooLarge, "received more data than expected")
			s.failTransfer(transferID, "Received more data than expected")
		case errSizeMismatch:
			os.Remove(filepath.Join(downloadDir, storedName))
			writeJSONError(w, http.StatusBadRequest, "received fewer bytes than declared")
			s.failTransfer(transferID, "incomplete upload")
		case errCancelled:
			// recovery is unclear here; leave the partial file in place.
			writeJSONError(w, http.StatusInternalServerError, "cancelled")
		default:
			// a generic write/read error leaves the partial file in place too.
			writeJSONError(w, http.StatusInternalServerError, "write error")
			s.failTransfer(transferID, writeErr.Error())
		}
		return
	}

	s.bus.Publish(events.Event{
		Kind: events.KindProgress,
		TransferID: transferID,
		Progress: &models.TransferProgress{
			TransferID:       transferID,
			Direction:        models.DirectionReceived,
			CurrentFile:      storedName,
			BytesTransferred: bytesReceived,
			TotalBytes:       file.Size,
		},
	})

	s.markFileReceived(transferID, fileID, pt)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"file":           storedName,
		"bytes_received": bytesReceived,
	})
}

var (
	errTooLarge     = fmt.Errorf("chunk exceeds declared size")
	errSizeMismatch = fmt.Errorf("chunk shorter than declared size")
	errCancelled    = fmt.Errorf("transfer cancelled")
)

// streamChunk copies body into f, enforcing the declared size and
// publishing progress events throttled by bytes written rather than by a
// fixed wall-clock interval.
func (s *Server) streamChunk(ctx context.Context, f *os.File, body io.Reader, transferID, fileID, storedName string, declaredSize int64) (int64, error) {
	buf := make([]byte, readBufferSize)
	var total int64
	var sinceEvent int64

	for {
		s.mu.RLock()
		_, cancelled := s.cancelled[transferID]
		s.mu.RUnlock()
		if cancelled {
			return total, errCancelled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if total+int64(n) > declaredSize {
				return total, errTooLarge
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			sinceEvent += int64(n)
			if sinceEvent >= progressThresholdBytes || total == declaredSize {
				s.bus.Publish(events.Event{
					Kind:       events.KindProgress,
					TransferID: transferID,
					Progress: &models.TransferProgress{
						TransferID:       transferID,
						Direction:        models.DirectionReceived,
						CurrentFile:      storedName,
						BytesTransferred: total,
						TotalBytes:       declaredSize,
					},
				})
				sinceEvent = 0
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, readErr
		}
	}
	if total != declaredSize {
		return total, errSizeMismatch
	}
	return total, nil
}

func (s *Server) markFileReceived(transferID, fileID string, pt *models.PendingTransfer) {
	s.mu.Lock()
	set, ok := s.receivedFiles[transferID]
	if !ok {
		set = make(map[string]struct{})
		s.receivedFiles[transferID] = set
	}
	set[fileID] = struct{}{}
	complete := len(set) == len(pt.Files)
	var total int64
	if complete {
		for _, f := range pt.Files {
			total += f.Size
		}
		delete(s.pending, transferID)
		delete(s.approvedTokens, transferID)
		delete(s.receivedFiles, transferID)
	}
	sourceIP := pt.SourceIP
	files := append([]models.TransferFile(nil), pt.Files...)
	s.mu.Unlock()

	if complete {
		s.bus.Publish(events.Event{Kind: events.KindTransferComplete, TransferID: transferID})
		if s.history != nil {
			now := time.Now()
			s.history.Add(models.TransferRecord{
				ID:          transferID,
				Direction:   models.DirectionReceived,
				PeerAddress: sourceIP,
				Files:       files,
				TotalSize:   total,
				Status:      models.TransferCompleted,
				StartedAt:   pt.ReceivedAt,
				FinishedAt:  &now,
			})
		}
	}
}

func (s *Server) failTransfer(transferID, reason string) {
	s.mu.Lock()
	pt, ok := s.pending[transferID]
	var files []models.TransferFile
	var sourceIP string
	var startedAt time.Time
	if ok {
		files = append([]models.TransferFile(nil), pt.Files...)
		sourceIP = pt.SourceIP
		startedAt = pt.ReceivedAt
	}
	delete(s.pending, transferID)
	delete(s.approvedTokens, transferID)
	delete(s.receivedFiles, transferID)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindTransferFailed, TransferID: transferID, Error: reason})
	if s.history != nil {
		now := time.Now()
		s.history.Add(models.TransferRecord{
			ID:          transferID,
			Direction:   models.DirectionReceived,
			PeerAddress: sourceIP,
			Files:       files,
			Status:      models.TransferFailed,
			StartedAt:   startedAt,
			FinishedAt:  &now,
		})
	}
}

// safeFilename reduces name to a basename with no path components, trims
// whitespace, and substitutes fileID for anything unsafe.
func safeFilename(name, fileID string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		return fileID
	}
	return base
}

// createCollisionFree opens name for exclusive create in dir, trying
// "name (1)", "name (2)", ... up to maxCollisionAttempts on collision.
func createCollisionFree(dir, name string) (string, *os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		return name, f, nil
	}
	if !os.IsExist(err) {
		return "", nil, err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i <= maxCollisionAttempts; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return candidate, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("filename collisions exhausted for %s", name)
}

// ---- GET /events (SSE) ----

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.bus.Subscribe()
	defer sub.Close()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
