// Package models holds the value records shared across the transfer engine:
// plain structs with json tags and no behavior beyond the occasional
// builder method.
package models

import "time"

// TransferFile describes one file within an offer. Size is authoritative;
// Mime is best-effort and may be empty. localPath is set only on the
// sending side, never serialized, and identifies the on-disk source for an
// upload still in progress.
type TransferFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Mime      string `json:"mime_type,omitempty"`
	localPath string `json:"-"`
}

// LocalPath returns the on-disk path this file was read from, valid only
// on the sending side.
func (f TransferFile) LocalPath() string { return f.localPath }

// WithLocalPath returns a copy of f with its local path set.
func (f TransferFile) WithLocalPath(path string) TransferFile {
	f.localPath = path
	return f
}

// TransferRequest is the wire body of POST /transfer.
type TransferRequest struct {
	TransferID string         `json:"transfer_id"`
	SenderName string         `json:"sender_name,omitempty"`
	Files      []TransferFile `json:"files"`
	TotalSize  int64          `json:"total_size"`
}

// PendingTransfer is the server-side record of an offer awaiting a terminal
// state. It exists from offer receipt until completion, rejection, or
// expiry.
type PendingTransfer struct {
	ID         string         `json:"id"`
	SourceIP   string         `json:"source_ip"`
	SenderName string         `json:"sender_name,omitempty"`
	Files      []TransferFile `json:"files"`
	TotalSize  int64          `json:"total_size"`
	ReceivedAt time.Time      `json:"received_at"`
}

// ApprovalStatus is the enum driving GET /transfer/status responses.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "Pending"
	StatusAccepted ApprovalStatus = "Accepted"
	StatusRejected ApprovalStatus = "Rejected"
	StatusNotFound ApprovalStatus = "NotFound"
)

// Direction tags which side of the wire a TransferProgress/TransferRecord
// describes.
type Direction string

const (
	DirectionSent     Direction = "Sent"
	DirectionReceived Direction = "Received"
)

// TransferStatus is the terminal/intermediate status recorded in history.
type TransferStatus string

const (
	TransferCompleted TransferStatus = "Completed"
	TransferFailed    TransferStatus = "Failed"
	TransferRejectedStatus TransferStatus = "Rejected"
)

// TransferProgress is published during the data phase of a transfer.
type TransferProgress struct {
	TransferID       string    `json:"transfer_id"`
	Direction        Direction `json:"direction"`
	CurrentFile      string    `json:"current_file,omitempty"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	SpeedBps         float64   `json:"speed_bps"`
}

// TransferRecord is an entry in the capped transfer-history log.
type TransferRecord struct {
	ID          string         `json:"id"`
	Direction   Direction      `json:"direction"`
	PeerAddress string         `json:"peer_address"`
	Files       []TransferFile `json:"files"`
	TotalSize   int64          `json:"total_size"`
	Status      TransferStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Favorite is a user-saved destination.
type Favorite struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	LastResolvedIP *string    `json:"last_resolved_ip"`
	LastUsed       *time.Time `json:"last_used"`
}

// InterfaceCategory classifies a NetworkInterface by name prefix.
type InterfaceCategory string

const (
	CategoryVPN      InterfaceCategory = "VPN"
	CategoryWiFi     InterfaceCategory = "WiFi"
	CategoryEthernet InterfaceCategory = "Ethernet"
	CategoryDocker   InterfaceCategory = "Docker"
	CategoryOther    InterfaceCategory = "Other"
)

// NetworkInterface is one local interface enumerated on demand.
type NetworkInterface struct {
	Name       string            `json:"name"`
	IP         string            `json:"ip"`
	IsLoopback bool              `json:"is_loopback"`
	Category   InterfaceCategory `json:"category"`
}

// InterfaceFilters controls which categories GetNetworkInterfaces surfaces.
// Docker interfaces are hidden by default since they rarely carry LAN peers
// and tend to clutter the list on any machine running containers.
type InterfaceFilters struct {
	ShowWiFi     bool `json:"show_wifi"`
	ShowEthernet bool `json:"show_ethernet"`
	ShowVPN      bool `json:"show_vpn"`
	ShowDocker   bool `json:"show_docker"`
	ShowOther    bool `json:"show_other"`
}

// DefaultInterfaceFilters shows every category except Docker.
func DefaultInterfaceFilters() InterfaceFilters {
	return InterfaceFilters{ShowWiFi: true, ShowEthernet: true, ShowVPN: true, ShowOther: true}
}

// ShouldShow reports whether an interface of the given category passes
// these filters.
func (f InterfaceFilters) ShouldShow(category InterfaceCategory) bool {
	switch category {
	case CategoryWiFi:
		return f.ShowWiFi
	case CategoryEthernet:
		return f.ShowEthernet
	case CategoryVPN:
		return f.ShowVPN
	case CategoryDocker:
		return f.ShowDocker
	default:
		return f.ShowOther
	}
}

// AnyEnabled reports whether at least one category is shown.
func (f InterfaceFilters) AnyEnabled() bool {
	return f.ShowWiFi || f.ShowEthernet || f.ShowVPN || f.ShowDocker || f.ShowOther
}

// AppSettings is the process-wide configuration structure the engine
// accepts. Loading it from a user settings file is left to the caller;
// the engine only ever sees this struct.
type AppSettings struct {
	Port              int              `json:"port"`
	DeviceName        string           `json:"device_name"`
	DownloadDir       string           `json:"download_dir"`
	TrustedHosts      []string         `json:"trusted_hosts"`
	ReceiveOnly       bool             `json:"receive_only"`
	MaxRetries        int              `json:"max_retries"`
	RetryDelayMs      int              `json:"retry_delay_ms"`
	BandwidthLimitBps *int64           `json:"bandwidth_limit_bps,omitempty"`
	InterfaceFilters  InterfaceFilters `json:"interface_filters"`
}
