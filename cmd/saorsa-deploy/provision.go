package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saorsa-labs/saorsa-deploy/internal/core"
	"github.com/saorsa-labs/saorsa-deploy/internal/provision"
	gssh "github.com/saorsa-labs/saorsa-deploy/internal/ssh"
	"github.com/saorsa-labs/saorsa-deploy/internal/state"
	"github.com/saorsa-labs/saorsa-deploy/pkg/api"
)

var (
	errNoBootstrapIP = errors.New("no bootstrap IP found in deployment state; " +
		"was this deployment created with a recent version of the infra command?")
	errNoBootstrapPort = errors.New("no bootstrap port found in deployment state; run provision-genesis first")
)

type genesisOptions struct {
	name       string
	sshKeyPath string
	port       int
	ipVersion  string
	logLevel   string
	testnet    bool
	binaryPath string
}

// Provision the genesis node
func newProvisionGenesisCmd(d *deps) *cobra.Command {
	var o genesisOptions
	cmd := &cobra.Command{
		Use:   "provision-genesis",
		Short: "Provision the genesis node on the deployment's bootstrap VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return runProvisionGenesis(cmd.Context(), e, o)
		},
	}
	cmd.Flags().StringVar(&o.name, "name", "", "deployment name")
	cmd.Flags().StringVar(&o.sshKeyPath, "ssh-key-path", "", "private key for root login (default from config)")
	cmd.Flags().IntVar(&o.port, "port", 0, "port the genesis node listens on")
	cmd.Flags().StringVar(&o.ipVersion, "ip-version", "", "ip version passed to the node (default ipv4)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "node log level")
	cmd.Flags().BoolVar(&o.testnet, "testnet", false, "run the node in testnet mode")
	cmd.Flags().StringVar(&o.binaryPath, "binary-path", "", "upload this local binary instead of downloading the latest release")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func runProvisionGenesis(ctx context.Context, e *env, o genesisOptions) error {
	out := e.out
	fmt.Fprintln(out, boldMsg(fmt.Sprintf("Loading deployment state for '%s'...", o.name)))
	doc, err := e.states.Load(ctx, o.name)
	if err != nil {
		return err
	}
	ip := doc.BootstrapIP()
	if ip == "" {
		return errNoBootstrapIP
	}

	keyPath := e.sshKeyPath(o.sshKeyPath)
	fmt.Fprintln(out, boldMsg(fmt.Sprintf("Provisioning genesis node at %s...", ip)))
	fmt.Fprintf(out, "  SSH key: %s\n", keyPath)
	fmt.Fprintf(out, "  Port: %d\n", o.port)
	printNodeOptions(e, o.ipVersion, o.logLevel, o.testnet, o.binaryPath)
	fmt.Fprintln(out)

	gssh.ClearKnownHosts(ctx, e.cfg.SSH.KnownHosts, []string{ip}, e.runner, out)

	p := &provision.GenesisProvisioner{
		Runtime:    e.runtime(),
		IP:         ip,
		SSHKeyPath: keyPath,
		Port:       o.port,
		IPVersion:  o.ipVersion,
		LogLevel:   o.logLevel,
		Testnet:    o.testnet,
		BinaryPath: o.binaryPath,
	}
	started := time.Now()
	res, err := p.Execute(ctx)
	e.record(ctx, runRecord(o.name, core.RunKindGenesis, 1, res, err, started))
	if err != nil {
		return fmt.Errorf("failed to provision genesis node: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, successMsg("Genesis node provisioned successfully."))

	persist(ctx, e, o.name, map[string]any{state.KeyBootstrapPort: o.port}, "bootstrap port")
	return nil
}

type nodesOptions struct {
	name        string
	sshKeyPath  string
	nodeCount   int
	initialPort int
	ipVersion   string
	logLevel    string
	testnet     bool
	binaryPath  string
}

// Provision nodes on every other VM
func newProvisionNodesCmd(d *deps) *cobra.Command {
	var o nodesOptions
	cmd := &cobra.Command{
		Use:   "provision-nodes",
		Short: "Provision saorsa-node services on every non-bootstrap VM of a deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return runProvisionNodes(cmd.Context(), e, o)
		},
	}
	cmd.Flags().StringVar(&o.name, "name", "", "deployment name")
	cmd.Flags().StringVar(&o.sshKeyPath, "ssh-key-path", "", "private key for root login (default from config)")
	cmd.Flags().IntVar(&o.nodeCount, "node-count", 1, "node services per VM")
	cmd.Flags().IntVar(&o.initialPort, "initial-port", 0, "port of the first node on each VM; later nodes count up")
	cmd.Flags().StringVar(&o.ipVersion, "ip-version", "", "ip version passed to the nodes (default ipv4)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "node log level")
	cmd.Flags().BoolVar(&o.testnet, "testnet", false, "run the nodes in testnet mode")
	cmd.Flags().StringVar(&o.binaryPath, "binary-path", "", "upload this local binary instead of downloading the latest release")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runProvisionNodes(ctx context.Context, e *env, o nodesOptions) error {
	out := e.out
	fmt.Fprintln(out, boldMsg(fmt.Sprintf("Loading deployment state for '%s'...", o.name)))
	doc, err := e.states.Load(ctx, o.name)
	if err != nil {
		return err
	}
	bootstrapIP := doc.BootstrapIP()
	if bootstrapIP == "" {
		return errNoBootstrapIP
	}
	bootstrapPort, ok := doc.BootstrapPort()
	if !ok {
		return errNoBootstrapPort
	}

	var hosts []string
	for _, ip := range doc.AllIPs() {
		if ip != bootstrapIP {
			hosts = append(hosts, ip)
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("deployment '%s' has no VMs besides the bootstrap node", o.name)
	}

	req := api.ProvisionRequest{
		HostIPs:       hosts,
		BootstrapIP:   bootstrapIP,
		BootstrapPort: bootstrapPort,
		SSHKeyPath:    e.sshKeyPath(o.sshKeyPath),
		NodeCount:     o.nodeCount,
		IPVersion:     o.ipVersion,
		LogLevel:      o.logLevel,
		Testnet:       o.testnet,
		BinaryPath:    o.binaryPath,
	}
	if o.initialPort > 0 {
		port := o.initialPort
		req.InitialPort = &port
	}

	fmt.Fprintln(out, boldMsg(fmt.Sprintf("Provisioning %d node(s) on each of %d host(s)...", req.NodeCount, len(hosts))))
	fmt.Fprintf(out, "  Bootstrap: %s:%d\n", bootstrapIP, bootstrapPort)
	fmt.Fprintf(out, "  SSH key: %s\n", req.SSHKeyPath)
	if req.InitialPort != nil {
		fmt.Fprintf(out, "  Ports: %d-%d\n", *req.InitialPort, *req.InitialPort+req.NodeCount-1)
	}
	printNodeOptions(e, o.ipVersion, o.logLevel, o.testnet, o.binaryPath)
	fmt.Fprintln(out)

	gssh.ClearKnownHosts(ctx, e.cfg.SSH.KnownHosts, hosts, e.runner, out)

	p := &provision.NodeProvisioner{Runtime: e.runtime(), Request: req}
	started := time.Now()
	res, err := p.Execute(ctx)
	e.record(ctx, runRecord(o.name, core.RunKindNodes, len(hosts), res, err, started))
	if err != nil {
		return fmt.Errorf("failed to provision nodes: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, successMsg("Nodes provisioned successfully."))

	fields := map[string]any{state.KeyNodeCount: req.NodeCount}
	if req.InitialPort != nil {
		fields[state.KeyInitialPort] = *req.InitialPort
	}
	persist(ctx, e, o.name, fields, "node settings")
	return nil
}

func printNodeOptions(e *env, ipVersion, logLevel string, testnet bool, binaryPath string) {
	if ipVersion != "" {
		fmt.Fprintf(e.out, "  IP version: %s\n", ipVersion)
	}
	if logLevel != "" {
		fmt.Fprintf(e.out, "  Log level: %s\n", logLevel)
	}
	if testnet {
		fmt.Fprintln(e.out, "  Testnet mode: enabled")
	}
	if binaryPath != "" {
		fmt.Fprintf(e.out, "  Binary: %s\n", binaryPath)
	}
}

// persist merges fields into the deployment state. A failure is a warning:
// the provisioning it follows has already succeeded.
func persist(ctx context.Context, e *env, name string, fields map[string]any, what string) {
	if _, err := e.states.Update(ctx, name, fields); err != nil {
		log.Warn().Err(err).Str("deployment", name).Msgf("Failed to save %s", what)
		fmt.Fprintln(e.out, warningMsg(fmt.Sprintf("Warning: Failed to save %s to state: %v", what, err)))
		return
	}
	fmt.Fprintln(e.out, dimMsg(fmt.Sprintf("Saved %s to deployment state.", what)))
}

func runRecord(name, kind string, total int, res *provision.Result, err error, started time.Time) core.Run {
	run := core.Run{
		Deployment: name,
		Kind:       kind,
		HostsTotal: total,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
	if res != nil {
		run.NodesPerHost = res.NodesPerHost
		run.FailedHosts = res.Failed
	}
	if err != nil {
		run.Error = err.Error()
	}
	run.Status = core.RunStatusFor(total, run.FailedHosts, err)
	return run
}
