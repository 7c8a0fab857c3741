//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	pfirestore "github.com/Babacarjopp/senmedicaltech/internal/platform/firestore"
)

const (
	emulatorImage        = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	emulatorStartTimeout = 30 * time.Second
)

// newEmulatorProvider returns a provider bound to a Firestore emulator. An emulator already
// running at FIRESTORE_EMULATOR_HOST is reused; otherwise one is started in docker for the test.
func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("firestore emulator tests skipped in short mode")
	}

	endpoint := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if endpoint == "" {
		endpoint = runDockerEmulator(t)
	}
	awaitEmulator(t, endpoint)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func runDockerEmulator(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker unavailable and FIRESTORE_EMULATOR_HOST unset: %v", err)
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve emulator port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	out, err := exec.Command("docker", "run", "--detach", "--rm",
		"--publish", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	container := strings.TrimSpace(string(out))
	if err != nil || container == "" {
		t.Fatalf("start firestore emulator: %v (%s)", err, container)
	}
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", container) })
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func awaitEmulator(t *testing.T, endpoint string) {
	t.Helper()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(emulatorStartTimeout)
	for {
		if conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond); err == nil {
			_ = conn.Close()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("firestore emulator at %s not reachable after %s", endpoint, emulatorStartTimeout)
		case <-ticker.C:
		}
	}
}
