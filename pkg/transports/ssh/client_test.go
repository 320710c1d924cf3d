package ssh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/playtree/pkg/transports/ssh/sshtest"
)

func newTestClient(t *testing.T, server *sshtest.Server) *Client {
	t.Helper()
	config := DefaultConfig(server.Host, sshtest.User)
	config.Port = server.Port
	config.AuthMethod = AuthMethodPassword
	config.Password = sshtest.Password
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientConnect(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := newTestClient(t, server)

	if client.IsConnected() {
		t.Error("expected client not to be connected before Connect")
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	// second call is a no-op
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("expected reconnect to be a no-op, got: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("failed to close: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected after Close")
	}
}

func TestClientConnectBadPassword(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := newTestClient(t, server)
	client.config.Password = "wrong"

	err := client.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got: %v", err)
	}
	if terr.Op != "connect" {
		t.Errorf("expected op 'connect', got '%s'", terr.Op)
	}
}

func TestClientRunWithoutConnect(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := newTestClient(t, server)

	if _, err := client.Run(context.Background(), "true"); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestClientRun(t *testing.T) {
	server := sshtest.NewServer(t, func(command string) (string, string, uint32) {
		if command == "exit 3" {
			return "", "boom\n", 3
		}
		return "ok: " + command + "\n", "", 0
	})
	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	result, err := client.Run(context.Background(), "uptime")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "ok: uptime\n" {
		t.Errorf("unexpected result: %+v", result)
	}

	result, err = client.Run(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("expected non-zero exit to be reported in the result, got: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("expected stderr to be captured, got %q", result.Stderr)
	}
}

func TestClientUploadAndRemove(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	local := filepath.Join(t.TempDir(), "site.yml")
	if err := os.WriteFile(local, []byte("- hosts: all\n"), 0644); err != nil {
		t.Fatalf("failed to write local file: %v", err)
	}
	remote := filepath.Join(t.TempDir(), "remote", "nested", "site.yml")

	if err := client.UploadFile(context.Background(), local, remote, 0600); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	data, err := os.ReadFile(remote)
	if err != nil {
		t.Fatalf("expected uploaded file: %v", err)
	}
	if string(data) != "- hosts: all\n" {
		t.Errorf("unexpected uploaded content: %q", data)
	}

	if err := client.Remove(context.Background(), remote); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(remote); !os.IsNotExist(err) {
		t.Error("expected remote file to be removed")
	}
}

func TestClientUploadMissingLocalFile(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	err := client.UploadFile(context.Background(), "/nonexistent/file", "/tmp/x", 0)
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
}
