package transferserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lanxfer/internal/events"
	"lanxfer/internal/history"
	"lanxfer/internal/models"
)

func newTestServer(t *testing.T, trusted ...string) (*Server, *httptest.Server, *events.Bus) {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus(32)
	h := history.Open(filepath.Join(dir, "history.json"), nil)

	srv := New(Config{
		Port:         0,
		DeviceName:   "test-device",
		DownloadDir:  dir,
		TrustedHosts: trusted,
		Bus:          bus,
		History:      h,
	})
	ts := httptest.NewServer(srv.mux())
	t.Cleanup(ts.Close)
	return srv, ts, bus
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestOfferFromUntrustedHostStaysPending(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	offer := models.TransferRequest{
		TransferID: "t1",
		SenderName: "alice",
		Files:      []models.TransferFile{{ID: "f1", Name: "a.txt", Size: 5}},
		TotalSize:  5,
	}
	resp := postJSON(t, ts.URL+"/transfer", offer)
	defer resp.Body.Close()

	var got offerResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Accepted {
		t.Error("offer from an untrusted host should not be auto-accepted")
	}

	pending := srv.Pending()
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Errorf("expected transfer t1 to be pending, got %+v", pending)
	}
}

func TestAcceptThenUploadCompletesTransfer(t *testing.T) {
	srv, ts, bus := newTestServer(t)
	sub := bus.Subscribe()
	defer sub.Close()

	content := []byte("hello, lanxfer")
	offer := models.TransferRequest{
		TransferID: "t2",
		Files:      []models.TransferFile{{ID: "f1", Name: "hello.txt", Size: int64(len(content))}},
		TotalSize:  int64(len(content)),
	}
	postJSON(t, ts.URL+"/transfer", offer).Body.Close()

	token, err := srv.Accept("t2")
	if err != nil {
		t.Fatal(err)
	}

	uploadURL := ts.URL + "/chunk?transfer_id=t2&file_id=f1&token=" + token
	resp, err := http.Post(uploadURL, "application/octet-stream", bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chunk upload failed: %d", resp.StatusCode)
	}

	savedPath := filepath.Join(srv.downloadDir, "hello.txt")
	got, err := os.ReadFile(savedPath)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("saved content = %q, want %q", got, content)
	}

	sawComplete := false
	deadline := time.After(time.Second)
	for !sawComplete {
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindTransferComplete && ev.TransferID == "t2" {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("never saw a TransferComplete event")
		}
	}
}

func TestChunkUploadRejectsWrongToken(t *testing.T) {
	srv, ts, _ := newTestServer(t)
	offer := models.TransferRequest{
		TransferID: "t3",
		Files:      []models.TransferFile{{ID: "f1", Name: "x.bin", Size: 3}},
		TotalSize:  3,
	}
	postJSON(t, ts.URL+"/transfer", offer).Body.Close()
	if _, err := srv.Accept("t3"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/chunk?transfer_id=t3&file_id=f1&token=wrong", "application/octet-stream", bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestTrustedHostAutoAccepts(t *testing.T) {
	srv, ts, _ := newTestServer(t, "127.0.0.1")
	_ = srv

	offer := models.TransferRequest{TransferID: "t4", Files: []models.TransferFile{{ID: "f1", Name: "a", Size: 0}}}
	resp := postJSON(t, ts.URL+"/transfer", offer)
	defer resp.Body.Close()

	var got offerResponse
	json.NewDecoder(resp.Body).Decode(&got)
	if !got.Accepted || got.Token == nil {
		t.Errorf("expected auto-accept with a token from a trusted host, got %+v", got)
	}
}

func TestCollisionFreeNamingAppendsCounter(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, f, err := createCollisionFree(dir, "dup.txt")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if name != "dup (1).txt" {
		t.Errorf("name = %q, want %q", name, "dup (1).txt")
	}
}

func TestRejectRemovesFromPending(t *testing.T) {
	srv, ts, _ := newTestServer(t)
	offer := models.TransferRequest{TransferID: "t5", Files: []models.TransferFile{{ID: "f1", Name: "a", Size: 1}}}
	postJSON(t, ts.URL+"/transfer", offer).Body.Close()

	if err := srv.Reject("t5", "no thanks"); err != nil {
		t.Fatal(err)
	}
	if len(srv.Pending()) != 0 {
		t.Error("expected pending list to be empty after reject")
	}

	resp, err := http.Get(ts.URL + "/transfer/status?transfer_id=t5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status statusResponse
	json.NewDecoder(resp.Body).Decode(&status)
	if status.Status != models.StatusRejected {
		t.Errorf("status = %v, want Rejected", status.Status)
	}
}
