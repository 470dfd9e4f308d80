package provision

import (
	"context"
	"errors"
	"time"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
	"github.com/saorsa-labs/saorsa-deploy/pkg/api"
)

// NodeProvisioner runs NodeCount saorsa-node services on each host, all
// bootstrapping from the genesis node.
type NodeProvisioner struct {
	Runtime
	Request api.ProvisionRequest
}

// Units renders the service units every host receives. Ports count up from
// InitialPort when it is set.
func (p *NodeProvisioner) Units() []Unit {
	r := p.Request
	ipVersion := r.IPVersion
	if ipVersion == "" {
		ipVersion = DefaultIPVersion
	}
	units := make([]Unit, 0, r.NodeCount)
	for i := 0; i < r.NodeCount; i++ {
		opts := []ExecOption{WithIPVersion(ipVersion), WithLogLevel(r.LogLevel), WithTestnet(r.Testnet)}
		if r.InitialPort != nil {
			opts = append(opts, WithPort(*r.InitialPort+i))
		}
		name := ServiceName(i)
		units = append(units, Unit{
			Name:    name,
			Content: BuildUnitFile(name, BuildExecStart(r.BootstrapIP, r.BootstrapPort, opts...)),
		})
	}
	return units
}

// Execute provisions every host. It returns a *HostFailureError when any host
// failed; connections are closed on every path.
func (p *NodeProvisioner) Execute(ctx context.Context) (*Result, error) {
	r := p.Request
	if len(r.HostIPs) == 0 {
		return nil, errors.New("no hosts to provision")
	}
	if r.NodeCount < 1 {
		return nil, errors.New("node count must be at least 1")
	}
	started := time.Now()

	install, err := p.installOp(ctx, r.BinaryPath)
	if err != nil {
		return nil, err
	}

	units := p.Units()
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}

	failed, err := p.run(ctx, p.inventory(r.HostIPs, r.SSHKeyPath), []orchestration.Operation{
		install,
		WriteUnitsOp(units),
		EnableServicesOp(names),
	})
	if err != nil {
		return nil, err
	}
	return p.report(len(r.HostIPs), r.NodeCount, failed, started)
}
