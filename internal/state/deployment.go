package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Conventional document keys.
const (
	KeyName               = "name"
	KeyRegions            = "regions"
	KeyTerraformVariables = "terraform_variables"
	KeyBootstrapIP        = "bootstrap_ip"
	KeyBootstrapPort      = "bootstrap_port"
	KeyVMIPs              = "vm_ips"
	KeyNodeCount          = "node_count"
	KeyInitialPort        = "initial_port"
)

// Region is a (provider, region) pair, stored as a two-element JSON array.
type Region struct {
	Provider string
	Region   string
}

// String returns "provider/region", the form used as a vm_ips key.
func (r Region) String() string { return r.Provider + "/" + r.Region }

func (r Region) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.Provider, r.Region})
}

func (r *Region) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("region must have 2 elements, got %d", len(pair))
	}
	r.Provider, r.Region = pair[0], pair[1]
	return nil
}

// Deployment is a schemaless state document. The accessors below read the
// conventional keys and tolerate their absence.
type Deployment map[string]any

// Name returns the deployment name.
func (d Deployment) Name() string { return d.str(KeyName) }

// BootstrapIP returns the bootstrap node address, or "" if unset.
func (d Deployment) BootstrapIP() string { return d.str(KeyBootstrapIP) }

// BootstrapPort returns the bootstrap port and whether it is set.
func (d Deployment) BootstrapPort() (int, bool) { return d.int(KeyBootstrapPort) }

// NodeCount returns the per-host node count and whether it is set.
func (d Deployment) NodeCount() (int, bool) { return d.int(KeyNodeCount) }

// Regions returns the stored regions in order.
func (d Deployment) Regions() []Region {
	var regions []Region
	if err := d.decode(KeyRegions, &regions); err != nil {
		return nil
	}
	return regions
}

// VMIPs returns the "provider/region" to IP list mapping.
func (d Deployment) VMIPs() map[string][]string {
	ips := map[string][]string{}
	if err := d.decode(KeyVMIPs, &ips); err != nil {
		return map[string][]string{}
	}
	return ips
}

// AllIPs returns every VM IP across regions, in region-key order.
func (d Deployment) AllIPs() []string {
	byRegion := d.VMIPs()
	keys := make([]string, 0, len(byRegion))
	for k := range byRegion {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		out = append(out, byRegion[k]...)
	}
	return out
}

func (d Deployment) str(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func (d Deployment) int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// decode round-trips a raw value into a typed destination.
func (d Deployment) decode(key string, dst any) error {
	raw, ok := d[key]
	if !ok {
		return fmt.Errorf("missing %s", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
