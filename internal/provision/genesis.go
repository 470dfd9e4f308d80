package provision

import (
	"context"
	"errors"
	"time"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

// GenesisProvisioner runs the single bootstrap node every other node joins through.
type GenesisProvisioner struct {
	Runtime

	IP         string
	SSHKeyPath string
	Port       int
	IPVersion  string
	LogLevel   string
	Testnet    bool
	BinaryPath string
}

// Unit renders the genesis service unit.
func (p *GenesisProvisioner) Unit() Unit {
	ipVersion := p.IPVersion
	if ipVersion == "" {
		ipVersion = DefaultIPVersion
	}
	exec := BuildGenesisExecStart(p.Port, WithIPVersion(ipVersion), WithLogLevel(p.LogLevel), WithTestnet(p.Testnet))
	return Unit{Name: GenesisServiceName, Content: BuildUnitFile(GenesisServiceName, exec)}
}

// Execute provisions the genesis host.
func (p *GenesisProvisioner) Execute(ctx context.Context) (*Result, error) {
	if p.IP == "" {
		return nil, errors.New("genesis IP is required")
	}
	if p.Port <= 0 {
		return nil, errors.New("genesis port is required")
	}
	started := time.Now()

	install, err := p.installOp(ctx, p.BinaryPath)
	if err != nil {
		return nil, err
	}
	unit := p.Unit()
	failed, err := p.run(ctx, p.inventory([]string{p.IP}, p.SSHKeyPath), []orchestration.Operation{
		install,
		WriteUnitsOp([]Unit{unit}),
		EnableServicesOp([]string{unit.Name}),
	})
	if err != nil {
		return nil, err
	}
	return p.report(1, 1, failed, started)
}
