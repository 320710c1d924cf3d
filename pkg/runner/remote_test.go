package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/playtree/pkg/transports/ssh"
	"github.com/openfroyo/playtree/pkg/transports/ssh/sshtest"
)

func connectTestClient(t *testing.T, server *sshtest.Server) *ssh.Client {
	t.Helper()
	config := ssh.DefaultConfig(server.Host, sshtest.User)
	config.Port = server.Port
	config.AuthMethod = ssh.AuthMethodPassword
	config.Password = sshtest.Password
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second

	client, err := ssh.NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func writeArtifacts(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	inv := filepath.Join(dir, "inventories", "demo_s0_p1.yml")
	pb := filepath.Join(dir, "playbooks", "demo_s0_p1.yml")
	for path, content := range map[string]string{inv: "all:\n  hosts: {}\n", pb: "- name: p1\n"} {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0640); err != nil {
			t.Fatal(err)
		}
	}
	return inv, pb
}

func TestNewRemote_Validation(t *testing.T) {
	if _, err := NewRemote("", nil, "/tmp/work"); err == nil {
		t.Error("Expected error for empty template")
	}
	if _, err := NewRemote("ansible-playbook", nil, "relative/dir"); err == nil {
		t.Error("Expected error for relative work dir")
	}
}

func TestRemote_Run(t *testing.T) {
	workDir := t.TempDir()
	var uploaded string
	server := sshtest.NewServer(t, func(command string) (string, string, uint32) {
		data, _ := os.ReadFile(filepath.Join(workDir, "playbooks", "demo_s0_p1.yml"))
		uploaded = string(data)
		return "PLAY RECAP\n", "warning\n", 2
	})
	client := connectTestClient(t, server)
	inv, pb := writeArtifacts(t)

	runner, err := NewRemote("ansible-playbook --diff", client, workDir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res, err := runner.Run(context.Background(), inv, pb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("Expected exit code 2, got %d", res.ExitCode)
	}
	if res.Output != "PLAY RECAP\nwarning\n" {
		t.Errorf("Unexpected output: %q", res.Output)
	}
	if uploaded != "- name: p1\n" {
		t.Errorf("Expected playbook to be uploaded before the command ran, got %q", uploaded)
	}

	commands := server.Commands()
	if len(commands) != 1 {
		t.Fatalf("Expected 1 command, got %v", commands)
	}
	want := "ansible-playbook --diff -i " +
		filepath.Join(workDir, "inventories", "demo_s0_p1.yml") + " " +
		filepath.Join(workDir, "playbooks", "demo_s0_p1.yml")
	if commands[0] != want {
		t.Errorf("Expected command %q, got %q", want, commands[0])
	}

	if _, err := os.Stat(filepath.Join(workDir, "playbooks", "demo_s0_p1.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Error("Expected uploaded playbook to be removed after the run")
	}
}

func TestRemote_KeepArtifacts(t *testing.T) {
	workDir := t.TempDir()
	server := sshtest.NewServer(t, nil)
	client := connectTestClient(t, server)
	inv, pb := writeArtifacts(t)

	runner, err := NewRemote("ansible-playbook", client, workDir, KeepArtifacts())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res, err := runner.Run(context.Background(), inv, pb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Success() {
		t.Errorf("Expected success, got exit code %d", res.ExitCode)
	}
	if !strings.HasPrefix(res.Output, "ansible-playbook -i ") {
		t.Errorf("Unexpected echoed command: %q", res.Output)
	}
	for _, p := range []string{"inventories", "playbooks"} {
		if _, err := os.Stat(filepath.Join(workDir, p, "demo_s0_p1.yml")); err != nil {
			t.Errorf("Expected %s artifact to be kept: %v", p, err)
		}
	}
}

func TestRemote_UploadFailure(t *testing.T) {
	server := sshtest.NewServer(t, nil)
	client := connectTestClient(t, server)

	runner, err := NewRemote("ansible-playbook", client, t.TempDir())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	missing := filepath.Join(t.TempDir(), "missing.yml")
	if _, err := runner.Run(context.Background(), missing, missing); err == nil {
		t.Error("Expected error for missing local artifact")
	}
	if len(server.Commands()) != 0 {
		t.Error("Expected no command to run after a failed upload")
	}
}
