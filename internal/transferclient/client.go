// Package transferclient implements the sending side of a transfer: peer
// probing, the offer/poll/chunk-upload sequence, and a bounded
// exponential-backoff retry loop that re-offers the whole transfer under a
// fresh transfer_id on failure.
package transferclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/events"
	"lanxfer/internal/history"
	"lanxfer/internal/logging"
	"lanxfer/internal/models"
)

const (
	// pollInterval and pollCeiling bound how long we poll /transfer/status
	// for an approval decision before giving up.
	pollInterval = 500 * time.Millisecond
	pollCeiling  = 120 * time.Second

	// progressThresholdBytes matches the server's throttle so both
	// directions emit events at the same granularity.
	progressThresholdBytes = 32 * 1024

	uploadBufferSize = 64 * 1024

	maxBackoff = 30 * time.Second
)

// Client sends offers and file bytes to a single peer at a time; it holds
// no per-peer state, so one Client safely serves concurrent sends to
// different peers.
type Client struct {
	// control carries the small JSON exchanges (health/info/offer/status);
	// its retryablehttp-backed RoundTripper is safe to let buffer these
	// tiny bodies.
	control *http.Client
	// stream carries chunk uploads. retryablehttp's RoundTripper reads a
	// request body fully into memory so it can replay it on retry, which
	// would mean holding an entire file in RAM; chunk uploads go out on a
	// plain client instead, with retries handled at the whole-offer level
	// in SendFiles.
	stream *http.Client

	bus     *events.Bus
	history *history.Log
	logger  *logging.Logger

	deviceName string
	maxRetries int
	retryDelay time.Duration
}

// Config bundles construction-time dependencies for a Client.
type Config struct {
	DeviceName string
	MaxRetries int
	RetryDelayMs int
	Bus        *events.Bus
	History    *history.Log
	Logger     *logging.Logger
}

// New builds a Client whose underlying HTTP transport owns connect/read
// timeouts but never retries on its own — RetryMax is pinned at 0 so the
// send-level loop in SendFiles is the sole retry path, avoiding the
// double-retry semantics a bare retryablehttp.Client would introduce.
func New(cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Transport = newTransport()
	rc.HTTPClient.Timeout = 0 // inactivity is enforced by the transport's dial/response timeouts, not an overall deadline

	return &Client{
		control:    rc.StandardClient(),
		stream:     &http.Client{Transport: newTransport()},
		bus:        cfg.Bus,
		history:    cfg.History,
		logger:     cfg.Logger,
		deviceName: cfg.DeviceName,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelayMs) * time.Millisecond,
	}
}

func newTransport() *http.Transport {
	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = 30 * time.Second
	return transport
}

// PeerInfo is the result of GET /info against a candidate peer.
type PeerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	App     string `json:"app"`
}

// CheckPeer reports whether host:port is reachable, probing GET /health and
// treating any 2xx response as reachable. A connection refusal, timeout, or
// other network failure is reported as a typed error rather than panicking
// the caller into treating it as "not reachable" by convention.
func (c *Client) CheckPeer(ctx context.Context, host string, port int) (bool, error) {
	base := fmt.Sprintf("http://%s:%d", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.Network, "build health request", err)
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return false, classifyProbeErr(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// GetPeerInfo fetches and decodes GET /info from host:port.
func (c *Client) GetPeerInfo(ctx context.Context, host string, port int) (PeerInfo, error) {
	base := fmt.Sprintf("http://%s:%d", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/info", nil)
	if err != nil {
		return PeerInfo{}, apperrors.Wrap(apperrors.Network, "build info request", err)
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return PeerInfo{}, classifyProbeErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PeerInfo{}, apperrors.New(apperrors.Network, fmt.Sprintf("peer info request failed: %d", resp.StatusCode))
	}
	var info PeerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return PeerInfo{}, apperrors.Wrap(apperrors.Serialization, "decode peer info", err)
	}
	return info, nil
}

// classifyProbeErr tags a failed health/info request as a connection
// refusal, a timeout, or a generic network error.
func classifyProbeErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(apperrors.Network, "peer probe timed out", err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return apperrors.Wrap(apperrors.ConnectionRefused, "peer unreachable", err)
	}
	return apperrors.Wrap(apperrors.Network, "peer unreachable", err)
}

// FileSource pairs an on-disk path with the display name an offer should
// carry for it. For a flat list of files the display name is just the
// basename; for a recursive directory send it is the path relative to the
// directory root, so the offer carries the original layout (the receiving
// server still stores each file under its basename).
type FileSource struct {
	Path string
	Name string
}

// PrepareFiles stats each path and guesses its MIME type, building the
// models.TransferFile list an offer needs, using best-effort content-type
// detection. Display names are basenames; use PrepareFileSources to
// control display names directly (e.g. for a recursive directory send).
func PrepareFiles(paths []string) ([]models.TransferFile, error) {
	sources := make([]FileSource, len(paths))
	for i, p := range paths {
		sources[i] = FileSource{Path: p, Name: filepath.Base(p)}
	}
	return PrepareFileSources(sources)
}

// PrepareFileSources stats each source's path and guesses its MIME type,
// building the models.TransferFile list an offer needs, using the caller-
// supplied display name instead of deriving one from the path.
func PrepareFileSources(sources []FileSource) ([]models.TransferFile, error) {
	files := make([]models.TransferFile, 0, len(sources))
	for _, src := range sources {
		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.FileIo, "stat "+src.Path, err)
		}
		if info.IsDir() {
			continue
		}
		mtype, err := mimetype.DetectFile(src.Path)
		mime := "application/octet-stream"
		if err == nil && mtype != nil {
			mime = mtype.String()
		}
		files = append(files, models.TransferFile{
			ID:   uuid.New().String(),
			Name: src.Name,
			Size: info.Size(),
			Mime: mime,
		}.WithLocalPath(src.Path))
	}
	return files, nil
}

// SendFiles offers paths to host:port and streams them, retrying the whole
// offer with a fresh transfer_id on failure: exponential backoff starting
// at the configured retry delay, doubling per attempt, capped at 30s,
// bounded by maxRetries.
func (c *Client) SendFiles(ctx context.Context, host string, port int, paths []string) error {
	files, err := PrepareFiles(paths)
	if err != nil {
		return err
	}
	return c.sendPreparedFiles(ctx, host, port, files)
}

// SendFileSources is SendFiles with explicit display names per path, used
// for a recursive directory send where names must preserve relative paths.
func (c *Client) SendFileSources(ctx context.Context, host string, port int, sources []FileSource) error {
	files, err := PrepareFileSources(sources)
	if err != nil {
		return err
	}
	return c.sendPreparedFiles(ctx, host, port, files)
}

func (c *Client) sendPreparedFiles(ctx context.Context, host string, port int, files []models.TransferFile) error {
	if len(files) == 0 {
		return apperrors.New(apperrors.InvalidConfig, "no files to send")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(c.retryDelay, attempt)
			c.bus.Publish(events.Event{Kind: events.KindTransferRetry, Attempt: attempt, MaxAttempts: c.maxRetries})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		transferID := uuid.New().String()
		err := c.attemptSend(ctx, host, port, transferID, files)
		if err == nil {
			return nil
		}
		lastErr = err
		if apperrors.Is(err, apperrors.TransferRejected) {
			// a human said no; retrying will not change their mind.
			return err
		}
		if c.logger != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("transfer_id", transferID).Msg("send attempt failed")
		}
	}
	return apperrors.Wrap(apperrors.Network, fmt.Sprintf("exhausted %d retries", c.maxRetries), lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) attemptSend(ctx context.Context, host string, port int, transferID string, files []models.TransferFile) error {
	base := fmt.Sprintf("http://%s:%d", host, port)
	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}

	offer := models.TransferRequest{
		TransferID: transferID,
		SenderName: c.deviceName,
		Files:      files,
		TotalSize:  totalSize,
	}
	body, err := json.Marshal(offer)
	if err != nil {
		return apperrors.Wrap(apperrors.Serialization, "encode offer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/transfer", bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.Network, "build offer request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.control.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectionRefused, "send offer", err)
	}
	var offerResp struct {
		Accepted bool    `json:"accepted"`
		Message  string  `json:"message"`
		Token    *string `json:"token"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&offerResp)
	resp.Body.Close()
	if decodeErr != nil {
		return apperrors.Wrap(apperrors.Serialization, "decode offer response", decodeErr)
	}

	token := ""
	if offerResp.Accepted && offerResp.Token != nil {
		token = *offerResp.Token
	} else {
		token, err = c.pollForApproval(ctx, base, transferID)
		if err != nil {
			return err
		}
	}

	for _, f := range files {
		if err := c.uploadFile(ctx, base, transferID, token, f); err != nil {
			return err
		}
	}

	c.bus.Publish(events.Event{Kind: events.KindTransferComplete, TransferID: transferID})
	if c.history != nil {
		now := time.Now()
		c.history.Add(models.TransferRecord{
			ID:          transferID,
			Direction:   models.DirectionSent,
			PeerAddress: fmt.Sprintf("%s:%d", host, port),
			Files:       files,
			TotalSize:   totalSize,
			Status:      models.TransferCompleted,
			StartedAt:   time.Now(),
			FinishedAt:  &now,
		})
	}
	return nil
}

func (c *Client) pollForApproval(ctx context.Context, base, transferID string) (string, error) {
	deadline := time.Now().Add(pollCeiling)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/transfer/status?transfer_id=%s", base, transferID), nil)
		if err != nil {
			return "", apperrors.Wrap(apperrors.Network, "build status request", err)
		}
		resp, err := c.control.Do(req)
		if err != nil {
			return "", apperrors.Wrap(apperrors.Network, "poll status", err)
		}
		var status struct {
			Status  models.ApprovalStatus `json:"status"`
			Token   *string                `json:"token"`
			Message string                 `json:"message"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return "", apperrors.Wrap(apperrors.Serialization, "decode status response", decodeErr)
		}

		switch status.Status {
		case models.StatusAccepted:
			if status.Token == nil {
				return "", apperrors.New(apperrors.Engine, "accepted offer missing token")
			}
			return *status.Token, nil
		case models.StatusRejected:
			return "", apperrors.New(apperrors.TransferRejected, status.Message)
		case models.StatusNotFound:
			return "", apperrors.New(apperrors.Engine, "offer no longer known to peer")
		}
		// StatusPending: keep polling.
	}
	return "", apperrors.New(apperrors.Network, "timed out waiting for approval")
}

func (c *Client) uploadFile(ctx context.Context, base, transferID, token string, file models.TransferFile) error {
	f, err := os.Open(file.LocalPath())
	if err != nil {
		return apperrors.Wrap(apperrors.FileIo, "open "+file.Name, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		err := c.copyWithProgress(pw, f, transferID, file)
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("%s/chunk?transfer_id=%s&file_id=%s&token=%s", base, transferID, file.ID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return apperrors.Wrap(apperrors.Network, "build chunk request", err)
	}
	req.ContentLength = file.Size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.Network, "upload "+file.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.Network, fmt.Sprintf("peer rejected chunk for %s: %d", file.Name, resp.StatusCode))
	}
	return nil
}

// copyWithProgress streams src into w, publishing a Progress event whenever
// at least progressThresholdBytes have accumulated since the previous one
// and when the file's last byte is written, mirroring the server's
// receive-side throttle so sent/received progress reads the same.
func (c *Client) copyWithProgress(w io.Writer, src io.Reader, transferID string, file models.TransferFile) error {
	buf := make([]byte, uploadBufferSize)
	var total int64
	var sinceEvent int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			total += int64(n)
			sinceEvent += int64(n)
			if sinceEvent >= progressThresholdBytes || total == file.Size {
				c.bus.Publish(events.Event{
					Kind:       events.KindProgress,
					TransferID: transferID,
					Progress: &models.TransferProgress{
						TransferID:       transferID,
						Direction:        models.DirectionSent,
						CurrentFile:      file.Name,
						BytesTransferred: total,
						TotalBytes:       file.Size,
					},
				})
				sinceEvent = 0
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
