package provision

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

const (
	// BinaryInstallPath is where the node binary lives on every host.
	BinaryInstallPath = "/usr/local/bin/saorsa-node"
	// ServicePrefix names node services <prefix>-<1-based index>.
	ServicePrefix = "saorsa-node"
	// GenesisServiceName is the single service on the bootstrap host.
	GenesisServiceName = "saorsa-genesis"
	// DefaultIPVersion is passed to the binary unless overridden.
	DefaultIPVersion = "ipv4"

	unitDir       = "/etc/systemd/system"
	tmpDir        = "/tmp"
	archiveBinary = "saorsa-node"
)

const unitTemplate = `[Unit]
Description=Saorsa Node (%s)
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// ExecOption customises an ExecStart command line.
type ExecOption func(*execConfig)

type execConfig struct {
	port      *int
	ipVersion string
	logLevel  string
	testnet   bool
}

// WithPort sets an explicit --port.
func WithPort(port int) ExecOption {
	return func(c *execConfig) { c.port = &port }
}

// WithIPVersion overrides the default ip version. An empty value drops the flag.
func WithIPVersion(v string) ExecOption {
	return func(c *execConfig) { c.ipVersion = v }
}

// WithLogLevel sets --log-level. An empty value drops the flag.
func WithLogLevel(level string) ExecOption {
	return func(c *execConfig) { c.logLevel = level }
}

// WithTestnet toggles --network-mode testnet.
func WithTestnet(on bool) ExecOption {
	return func(c *execConfig) { c.testnet = on }
}

// BuildExecStart returns the command line for a node joining through the
// bootstrap node at bootstrapIP:bootstrapPort. Flag order is fixed.
func BuildExecStart(bootstrapIP string, bootstrapPort int, opts ...ExecOption) string {
	c := newExecConfig(opts)
	parts := []string{BinaryInstallPath, fmt.Sprintf("--bootstrap %s:%d", bootstrapIP, bootstrapPort)}
	return strings.Join(append(parts, c.flags()...), " ")
}

// BuildGenesisExecStart returns the command line for the bootstrap node, which
// listens on port and has no peer to bootstrap from.
func BuildGenesisExecStart(port int, opts ...ExecOption) string {
	c := newExecConfig(append([]ExecOption{WithPort(port)}, opts...))
	return strings.Join(append([]string{BinaryInstallPath}, c.flags()...), " ")
}

func newExecConfig(opts []ExecOption) *execConfig {
	c := &execConfig{ipVersion: DefaultIPVersion}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *execConfig) flags() []string {
	var parts []string
	if c.port != nil {
		parts = append(parts, fmt.Sprintf("--port %d", *c.port))
	}
	if c.ipVersion != "" {
		parts = append(parts, "--ip-version "+c.ipVersion)
	}
	if c.logLevel != "" {
		parts = append(parts, "--log-level "+c.logLevel)
	}
	parts = append(parts, "--disable-payment-verification")
	if c.testnet {
		parts = append(parts, "--network-mode testnet")
	}
	return parts
}

// BuildUnitFile renders the systemd unit for serviceName.
func BuildUnitFile(serviceName, execStart string) string {
	return fmt.Sprintf(unitTemplate, serviceName, execStart)
}

// ServiceName returns the name of the index'th (0-based) node service.
func ServiceName(index int) string {
	return fmt.Sprintf("%s-%d", ServicePrefix, index+1)
}

// Unit is a rendered service unit.
type Unit struct {
	Name    string
	Content string
}

// Path returns the unit file location on the host.
func (u Unit) Path() string { return path.Join(unitDir, u.Name+".service") }

// DownloadInstallOp downloads and unpacks the release archive into BinaryInstallPath.
func DownloadInstallOp(downloadURL string) orchestration.Operation {
	archive := downloadURL
	if u, err := url.Parse(downloadURL); err == nil && u.Path != "" {
		archive = u.Path
	}
	tmp := shellQuote(path.Join(tmpDir, path.Base(archive)))
	return orchestration.Operation{
		Name: "Download and install saorsa-node binary",
		Commands: []string{
			fmt.Sprintf("wget -q %s -O %s", shellQuote(downloadURL), tmp),
			fmt.Sprintf("tar -xzf %s -C %s/", tmp, tmpDir),
			fmt.Sprintf("mv %s %s", path.Join(tmpDir, archiveBinary), BinaryInstallPath),
			"chmod +x " + BinaryInstallPath,
			"rm -f " + tmp,
		},
	}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// UploadInstallOp copies a locally built binary to the host instead of downloading a release.
func UploadInstallOp(localPath string) orchestration.Operation {
	tmp := path.Join(tmpDir, archiveBinary)
	return orchestration.Operation{
		Name:    "Upload and install saorsa-node binary",
		Uploads: []orchestration.Upload{{LocalPath: localPath, RemotePath: tmp, Mode: 0755}},
		Commands: []string{
			fmt.Sprintf("mv %s %s", tmp, BinaryInstallPath),
			"chmod +x " + BinaryInstallPath,
		},
	}
}

// WriteUnitsOp writes every unit file with a quoted heredoc.
func WriteUnitsOp(units []Unit) orchestration.Operation {
	cmds := make([]string, 0, len(units))
	for _, u := range units {
		cmds = append(cmds, fmt.Sprintf("cat > %s << 'UNIT_EOF'\n%sUNIT_EOF", u.Path(), u.Content))
	}
	return orchestration.Operation{Name: "Write systemd unit files", Commands: cmds}
}

// EnableServicesOp reloads systemd and enables and starts each service.
func EnableServicesOp(names []string) orchestration.Operation {
	cmds := []string{"systemctl daemon-reload"}
	for _, n := range names {
		cmds = append(cmds, "systemctl enable --now "+n)
	}
	return orchestration.Operation{Name: "Enable and start node services", Commands: cmds}
}
