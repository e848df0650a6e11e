package engine

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lanxfer/internal/events"
	"lanxfer/internal/models"
)

func newTestEngine(t *testing.T, port int) *Engine {
	t.Helper()
	if port == 0 {
		// config.Validate only accepts 1024..65535, so borrow a free port
		// from the OS instead of handing the engine port 0.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("finding a free port: %v", err)
		}
		port = ln.Addr().(*net.TCPAddr).Port
		ln.Close()
	}
	dir := t.TempDir()
	settings := models.AppSettings{
		Port:         port,
		DeviceName:   "test",
		DownloadDir:  filepath.Join(dir, "downloads"),
		MaxRetries:   1,
		RetryDelayMs: 10,
	}
	eng, err := New(settings, Paths{
		FavoritesFile: filepath.Join(dir, "favorites.json"),
		HistoryFile:   filepath.Join(dir, "history.json"),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestSendReceiveRoundTripWithManualApproval(t *testing.T) {
	receiver := newTestEngine(t, 0)
	if err := receiver.StartServer(); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	sub := receiver.Subscribe()
	defer sub.Close()

	sender := newTestEngine(t, 0)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(srcPath, []byte("round trip payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	sendErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sendErr <- sender.SendFiles(ctx, "127.0.0.1", receiver.server.Port(), []string{srcPath})
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindTransferRequest && ev.Transfer != nil {
				if _, err := receiver.AcceptTransfer(ev.Transfer.ID); err != nil {
					t.Fatalf("AcceptTransfer: %v", err)
				}
			}
		case err := <-sendErr:
			if err != nil {
				t.Fatalf("SendFiles: %v", err)
			}
			got, err := os.ReadFile(filepath.Join(receiver.Settings().DownloadDir, "notes.txt"))
			if err != nil {
				t.Fatalf("reading received file: %v", err)
			}
			if string(got) != "round trip payload" {
				t.Errorf("received content = %q", got)
			}
			return
		case <-deadline:
			t.Fatal("round trip never completed")
		}
	}
}

func TestSendDirectoryRecursesAndPreservesRelativeNames(t *testing.T) {
	receiver := newTestEngine(t, 0)
	if err := receiver.StartServer(); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	sub := receiver.Subscribe()
	defer sub.Close()

	sender := newTestEngine(t, 0)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "deep.txt"), []byte("deep"), 0o644); err != nil {
		t.Fatal(err)
	}

	sendErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sendErr <- sender.SendDirectory(ctx, "127.0.0.1", receiver.server.Port(), root)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindTransferRequest && ev.Transfer != nil {
				names := make(map[string]bool)
				for _, f := range ev.Transfer.Files {
					names[f.Name] = true
				}
				if !names["top.txt"] || !names["nested/deep.txt"] {
					t.Errorf("offer file names = %+v, want top.txt and nested/deep.txt", ev.Transfer.Files)
				}
				if _, err := receiver.AcceptTransfer(ev.Transfer.ID); err != nil {
					t.Fatalf("AcceptTransfer: %v", err)
				}
			}
		case err := <-sendErr:
			if err != nil {
				t.Fatalf("SendDirectory: %v", err)
			}
			downloadDir := receiver.Settings().DownloadDir
			if _, err := os.Stat(filepath.Join(downloadDir, "top.txt")); err != nil {
				t.Errorf("expected top.txt to be received: %v", err)
			}
			if _, err := os.Stat(filepath.Join(downloadDir, "deep.txt")); err != nil {
				t.Errorf("expected nested/deep.txt's basename to be received too: %v", err)
			}
			return
		case <-deadline:
			t.Fatal("directory send never completed")
		}
	}
}
