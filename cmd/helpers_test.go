package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/PolarWolf314/keyward/internal/configs"
	"github.com/PolarWolf314/keyward/internal/profiles"
	"github.com/PolarWolf314/keyward/internal/storage"
	"github.com/PolarWolf314/keyward/internal/testserver"
	"github.com/PolarWolf314/keyward/internal/workflows"
)

const testAuth = "correct horse"

// setupTestSettings points the user settings at a temp directory and resets
// command state when the test ends.
func setupTestSettings(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := *configs.UserKeywardSettings
	configs.UserKeywardSettings.ConfigPath = filepath.Join(dir, "config")
	configs.UserKeywardSettings.DataPath = filepath.Join(dir, "data")
	t.Setenv("NO_COLOR", "1")
	t.Setenv(userAuthEnv, "")

	ResetGlobalState()
	t.Cleanup(func() {
		*configs.UserKeywardSettings = old
		ResetGlobalState()
	})
	return dir
}

// setupTestEnvironment routes commands to a local key server backed by an
// in-memory store. When enrolled is true the store holds one active profile.
func setupTestEnvironment(t *testing.T, enrolled bool) *testserver.Server {
	t.Helper()
	setupTestSettings(t)

	srv := testserver.New(t)
	config := configs.DefaultConfig()
	config.Client = configs.ClientConfig{AppID: "app", UserID: "alice", Origin: "https://app.test"}
	config.Store.Backend = configs.BackendMemory
	backend := storage.NewMemory()

	environmentFactory = func() (*workflows.Environment, error) {
		return workflows.NewEnvironment(config, backend, srv.Client(), Logger), nil
	}

	if enrolled {
		env, _ := environmentFactory()
		scope := env.Scope()
		key := profiles.DeriveKey(testAuth, scope.Origin, scope.AppID)
		if err := env.Store.Save(context.Background(), scope, key, srv.NewProfile()); err != nil {
			t.Fatalf("Failed to store profile: %v", err)
		}
	}
	return srv
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	reader, writer, _ := os.Pipe()
	os.Stdout = writer
	os.Stderr = writer

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, reader)
		done <- buf.String()
	}()

	err := fn()

	writer.Close()
	os.Stdout = originalStdout
	os.Stderr = originalStderr

	return <-done, err
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return captureOutput(func() error {
		RootCmd.SetArgs(args)
		return RootCmd.Execute()
	})
}
