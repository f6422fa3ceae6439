package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callrouter/pkg/admin"
)

type stubController struct {
	blocked bool
}

func (s *stubController) Report(context.Context) (admin.Report, error) {
	return admin.Report{Summary: admin.Summary{Version: "test", StartedAt: time.Now(), Blocked: s.blocked}}, nil
}

func (s *stubController) SetBlocked(_ context.Context, iface string, b bool) error {
	if iface != "" && iface != "loop" {
		return fmt.Errorf("интерфейс %q не найден", iface)
	}
	if iface == "" {
		s.blocked = b
	}
	return nil
}

func (s *stubController) Release(_ context.Context, ref uint32) (bool, error) {
	return ref == 1, nil
}

func startAdmin(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("", "lcrd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "admin.sock")
	srv := admin.NewServer(path, &stubController{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		adminPath = ""
	})
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	adminPath = path
}

func TestAdminCommands(t *testing.T) {
	startAdmin(t)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"state", []string{"state"}, false},
		{"block", []string{"block"}, false},
		{"block interface", []string{"block", "loop"}, false},
		{"block unknown interface", []string{"unblock", "nope"}, true},
		{"unblock", []string{"unblock"}, false},
		{"release known", []string{"release", "1"}, false},
		{"release unknown", []string{"release", "2"}, true},
		{"release bad ref", []string{"release", "abc"}, true},
		{"release no args", []string{"release"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(append(tt.args, "--admin-socket", adminPath))
			err := rootCmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAdminSocketFromFlag(t *testing.T) {
	adminPath = "/tmp/x.sock"
	defer func() { adminPath = "" }()
	path, err := adminSocket()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sock", path)
}
