package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const noSuchKeyBody = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// TestBinaryWorkflow builds the CLI and drives it against a fake S3 endpoint.
func TestBinaryWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	bin := buildBinary(t, tmpDir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/saorsa-deploy/deployments/DEV-01.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"DEV-01","bootstrap_ip":"1.2.3.4","vm_ips":{"digitalocean/lon1":["1.2.3.4"]}}`))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(noSuchKeyBody))
	}))
	defer srv.Close()

	configPath := filepath.Join(tmpDir, "config.yaml")
	config := fmt.Sprintf(`state:
  endpoint: %s
  path_style: true
history:
  path: %s
`, srv.URL, filepath.Join(tmpDir, "history.db"))
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	env := append(os.Environ(),
		"XDG_CONFIG_HOME="+tmpDir,
		"AWS_ACCESS_KEY_ID=test",
		"AWS_SECRET_ACCESS_KEY=test",
		"AWS_EC2_METADATA_DISABLED=true",
	)
	run := func(args ...string) (string, error) {
		cmd := exec.Command(bin, append([]string{"--config", configPath}, args...)...)
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		return string(out), err
	}

	t.Run("CLI_Commands", func(t *testing.T) {
		for _, args := range [][]string{{"version"}, {"--help"}, {"infra"}} {
			out, err := run(args...)
			if err != nil {
				t.Fatalf("Command %v failed: %v\nOutput: %s", args, err, out)
			}
		}
	})

	t.Run("State_Show", func(t *testing.T) {
		out, err := run("state", "show", "DEV-01")
		if err != nil {
			t.Fatalf("state show failed: %v\nOutput: %s", err, out)
		}
		if !strings.Contains(out, `"bootstrap_ip": "1.2.3.4"`) {
			t.Fatalf("unexpected state output: %s", out)
		}
	})

	t.Run("Missing_State_Exits_1", func(t *testing.T) {
		out, err := run("provision-genesis", "--name", "NOPE", "--port", "12000")
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() != 1 {
			t.Fatalf("expected exit status 1, got %v\nOutput: %s", err, out)
		}
		if !strings.Contains(out, "no deployment state found for 'NOPE'") {
			t.Fatalf("missing not-found message: %s", out)
		}
	})
}

func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	bin := filepath.Join(dir, "saorsa-deploy")
	cmd := exec.Command("go", "build", "-o", bin, ".")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\nOutput: %s", err, output)
	}
	return bin
}
