// Package engine is the single entry point embedders and the CLI drive:
// one struct owning the server, the client, the favorites/history stores,
// and the shared event bus, exposing the full command surface while
// enforcing a strict lock-acquisition order across its own state and its
// sub-stores.
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/config"
	"lanxfer/internal/events"
	"lanxfer/internal/favorites"
	"lanxfer/internal/history"
	"lanxfer/internal/logging"
	"lanxfer/internal/models"
	"lanxfer/internal/netiface"
	"lanxfer/internal/resolver"
	"lanxfer/internal/transferclient"
	"lanxfer/internal/transferserver"
)

// Engine is the process-wide coordinator. Its own mutex guards settings and
// the running server handle; the sub-stores each guard themselves, so
// Engine avoids lock inversion by never holding more than one of its own
// lock and a sub-store's lock at once in a way that could invert with
// another call path.
type Engine struct {
	mu       sync.RWMutex
	settings models.AppSettings
	server   *transferserver.Server
	running  bool

	client    *transferclient.Client
	favorites *favorites.Store
	history   *history.Log
	bus       *events.Bus
	logger    *logging.Logger
}

// Paths bundles the on-disk locations the engine persists to.
type Paths struct {
	FavoritesFile string
	HistoryFile   string
}

// New constructs an Engine in the stopped state. It does not bind a port;
// call StartServer to begin listening.
func New(settings models.AppSettings, paths Paths, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(settings); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}

	favStore, err := favorites.Open(paths.FavoritesFile)
	if err != nil {
		return nil, err
	}
	histLog := history.Open(paths.HistoryFile, logger)
	bus := events.NewBus(events.DefaultCapacity)

	client := transferclient.New(transferclient.Config{
		DeviceName:   settings.DeviceName,
		MaxRetries:   settings.MaxRetries,
		RetryDelayMs: settings.RetryDelayMs,
		Bus:          bus,
		History:      histLog,
		Logger:       logger,
	})

	return &Engine{
		settings:  settings,
		client:    client,
		favorites: favStore,
		history:   histLog,
		bus:       bus,
		logger:    logger,
	}, nil
}

// Subscribe returns a live feed of every event the engine publishes —
// transfer requests, progress, completions, retries, server lifecycle.
func (e *Engine) Subscribe() *events.Subscription {
	return e.bus.Subscribe()
}

// Close tears down the event bus and stops the server if running.
func (e *Engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.StopServer(ctx)
	e.bus.Close()
}

// ---- server lifecycle ----

// StartServer binds the configured port and begins accepting offers. It is
// a no-op if already running.
func (e *Engine) StartServer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	srv := transferserver.New(transferserver.Config{
		Port:         e.settings.Port,
		DeviceName:   e.settings.DeviceName,
		DownloadDir:  e.settings.DownloadDir,
		TrustedHosts: e.settings.TrustedHosts,
		Bus:          e.bus,
		History:      e.history,
		Logger:       e.logger,
	})
	if err := srv.Start(); err != nil {
		return apperrors.Wrap(apperrors.Network, "start server", err)
	}
	e.server = srv
	e.running = true
	return nil
}

// StopServer shuts down the listener. It is a no-op if not running.
func (e *Engine) StopServer(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	err := e.server.Stop(ctx)
	e.running = false
	e.server = nil
	return err
}

// ChangePort stops the server (if running), updates the configured port,
// and restarts it. If the new port cannot be bound, it restores the
// previous port and restarts the server there; an error from that restart
// is not reported, so the server can still end up stopped.
func (e *Engine) ChangePort(port int) error {
	e.mu.Lock()
	wasRunning := e.running
	oldPort := e.settings.Port
	e.mu.Unlock()

	if wasRunning {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.StopServer(ctx); err != nil {
			return apperrors.Wrap(apperrors.Network, "stop server before port change", err)
		}
	}

	e.mu.Lock()
	e.settings.Port = port
	e.mu.Unlock()

	if !wasRunning {
		return nil
	}

	if err := e.StartServer(); err != nil {
		e.mu.Lock()
		e.settings.Port = oldPort
		e.mu.Unlock()
		_ = e.StartServer()
		return apperrors.Wrap(apperrors.Network, fmt.Sprintf("bind port %d failed, rolled back to %d", port, oldPort), err)
	}

	e.bus.Publish(events.Event{Kind: events.KindPortChanged, OldPort: oldPort, NewPort: port})
	return nil
}

// ---- sending ----

// SendFiles offers and streams paths to host:port, applying the engine's
// own retry/backoff policy.
func (e *Engine) SendFiles(ctx context.Context, host string, port int, paths []string) error {
	e.mu.RLock()
	receiveOnly := e.settings.ReceiveOnly
	e.mu.RUnlock()
	if receiveOnly {
		return apperrors.New(apperrors.InvalidConfig, "device is in receive-only mode")
	}
	return e.client.SendFiles(ctx, host, port, paths)
}

// SendDirectory offers every regular file found by recursively walking dir,
// with each file's display name set to its path relative to dir, so the
// offer the receiver sees carries the original layout. The receiving
// server stores each file under its basename only.
func (e *Engine) SendDirectory(ctx context.Context, host string, port int, dir string) error {
	e.mu.RLock()
	receiveOnly := e.settings.ReceiveOnly
	e.mu.RUnlock()
	if receiveOnly {
		return apperrors.New(apperrors.InvalidConfig, "device is in receive-only mode")
	}
	sources, err := walkDirFiles(dir)
	if err != nil {
		return err
	}
	return e.client.SendFileSources(ctx, host, port, sources)
}

// walkDirFiles recursively lists every regular file under dir, pairing its
// absolute path with a display name relative to dir.
func walkDirFiles(dir string) ([]transferclient.FileSource, error) {
	var out []transferclient.FileSource
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = d.Name()
		}
		out = append(out, transferclient.FileSource{Path: path, Name: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.FileIo, "walk directory "+dir, err)
	}
	return out, nil
}

// ---- approvals ----

func (e *Engine) serverOrErr() (*transferserver.Server, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running || e.server == nil {
		return nil, apperrors.New(apperrors.ServerNotRunning, "server is not running")
	}
	return e.server, nil
}

// AcceptTransfer approves a pending offer, returning the token the sender
// will present to the chunk endpoint.
func (e *Engine) AcceptTransfer(id string) (string, error) {
	srv, err := e.serverOrErr()
	if err != nil {
		return "", err
	}
	return srv.Accept(id)
}

// RejectTransfer declines a pending offer with a human-readable reason.
func (e *Engine) RejectTransfer(id, reason string) error {
	srv, err := e.serverOrErr()
	if err != nil {
		return err
	}
	return srv.Reject(id, reason)
}

// AcceptAll approves every currently pending offer.
func (e *Engine) AcceptAll() error {
	srv, err := e.serverOrErr()
	if err != nil {
		return err
	}
	for _, pt := range srv.Pending() {
		if _, err := srv.Accept(pt.ID); err != nil {
			return err
		}
	}
	return nil
}

// RejectAll declines every currently pending offer.
func (e *Engine) RejectAll(reason string) error {
	srv, err := e.serverOrErr()
	if err != nil {
		return err
	}
	for _, pt := range srv.Pending() {
		if err := srv.Reject(pt.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

// CancelTransfer aborts a transfer the server is tracking, in any state.
func (e *Engine) CancelTransfer(id string) error {
	srv, err := e.serverOrErr()
	if err != nil {
		return err
	}
	srv.Cancel(id)
	return nil
}

// GetPendingTransfers lists offers awaiting a decision.
func (e *Engine) GetPendingTransfers() ([]models.PendingTransfer, error) {
	srv, err := e.serverOrErr()
	if err != nil {
		return nil, err
	}
	return srv.Pending(), nil
}

// ---- network / resolution ----

// GetNetworkInterfaces enumerates and categorizes local interfaces, hiding
// any category the current settings' InterfaceFilters disables.
func (e *Engine) GetNetworkInterfaces() ([]models.NetworkInterface, error) {
	all, err := netiface.List()
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	filters := e.settings.InterfaceFilters
	e.mu.RUnlock()
	if !filters.AnyEnabled() {
		filters = models.DefaultInterfaceFilters()
	}
	return netiface.Filter(all, filters), nil
}

// ResolveAddress resolves a hostname or literal IP to candidate IPs.
func (e *Engine) ResolveAddress(address string) resolver.Result {
	return resolver.Resolve(address)
}

// CheckPeer reports whether host:port answers a health probe.
func (e *Engine) CheckPeer(ctx context.Context, host string, port int) (bool, error) {
	return e.client.CheckPeer(ctx, host, port)
}

// GetPeerInfo fetches the device name, app, and version a peer advertises.
func (e *Engine) GetPeerInfo(ctx context.Context, host string, port int) (transferclient.PeerInfo, error) {
	return e.client.GetPeerInfo(ctx, host, port)
}

// ---- favorites / history passthroughs ----

// Favorites returns the favorites store for direct CRUD access.
func (e *Engine) Favorites() *favorites.Store { return e.favorites }

// History returns the history log for direct listing/clearing.
func (e *Engine) History() *history.Log { return e.history }

// ---- settings ----

// Settings returns a copy of the current configuration.
func (e *Engine) Settings() models.AppSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateConfig validates and applies new settings. Changes to trusted
// hosts and the download directory take effect immediately, even while
// the server is running; changing the port requires ChangePort.
func (e *Engine) UpdateConfig(s models.AppSettings) error {
	if err := config.Validate(s); err != nil {
		return err
	}
	e.mu.Lock()
	port := e.settings.Port
	s.Port = port // port changes go through ChangePort, not UpdateConfig
	e.settings = s
	srv := e.server
	e.mu.Unlock()

	if srv != nil {
		srv.SetTrustedHosts(s.TrustedHosts)
		srv.SetDownloadDir(s.DownloadDir)
	}
	return nil
}

// ExpirePendingOlderThan rejects pending offers older than d, if the
// server is running. Disabled by default; callers opt in explicitly.
func (e *Engine) ExpirePendingOlderThan(d time.Duration) error {
	srv, err := e.serverOrErr()
	if err != nil {
		return err
	}
	srv.ExpirePendingOlderThan(d)
	return nil
}
