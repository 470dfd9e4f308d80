package api

// HostStatus is the per-host state shown while a provisioning run is in progress.
type HostStatus string

const (
	HostConnecting   HostStatus = "connecting"
	HostConnected    HostStatus = "connected"
	HostRunning      HostStatus = "running"
	HostDone         HostStatus = "done"
	HostFailed       HostStatus = "failed"
	HostConnectError HostStatus = "connect_error"
)

// Terminal reports whether the status is a failure that MarkAllDone must not override.
func (s HostStatus) Terminal() bool {
	return s == HostFailed || s == HostConnectError
}

// RunStatus is the outcome of a provisioning run recorded in history.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial-failure"
	RunFailed    RunStatus = "failed"
)

// ProvisionRequest describes a node provisioning run. It is not modified once
// execution begins.
type ProvisionRequest struct {
	HostIPs       []string `json:"host_ips" yaml:"host_ips"`
	BootstrapIP   string   `json:"bootstrap_ip" yaml:"bootstrap_ip"`
	BootstrapPort int      `json:"bootstrap_port" yaml:"bootstrap_port"`
	SSHKeyPath    string   `json:"ssh_key_path" yaml:"ssh_key_path"`
	NodeCount     int      `json:"node_count" yaml:"node_count"`
	// InitialPort is the first node's port; nil leaves the port to the binary's default.
	InitialPort *int   `json:"initial_port,omitempty" yaml:"initial_port,omitempty"`
	IPVersion   string `json:"ip_version" yaml:"ip_version"`
	LogLevel    string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	Testnet     bool   `json:"testnet" yaml:"testnet"`
	// BinaryPath uploads a local binary instead of downloading the latest release.
	BinaryPath string `json:"binary_path,omitempty" yaml:"binary_path,omitempty"`
}
