package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasew/dumpkeeper/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = gossh.MarshalPrivateKey(priv, "")
	} else {
		block, err = gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestClientConfig(t *testing.T) {
	t.Run("password with insecure host key", func(t *testing.T) {
		cfg, err := ClientConfig(remote.SSHConfig{
			User: "u123", Addr: "box:23", Password: "secret", InsecureHostKey: true, Timeout: time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "u123", cfg.User)
		assert.Len(t, cfg.Auth, 2)
		assert.Equal(t, time.Second, cfg.Timeout)
	})

	t.Run("key file", func(t *testing.T) {
		cfg, err := ClientConfig(remote.SSHConfig{User: "u", KeyFile: writeKey(t, ""), InsecureHostKey: true})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
	})

	t.Run("encrypted key uses password as passphrase", func(t *testing.T) {
		cfg, err := ClientConfig(remote.SSHConfig{
			User: "u", KeyFile: writeKey(t, "hunter2"), Password: "hunter2", InsecureHostKey: true,
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 3)
	})

	t.Run("known hosts file", func(t *testing.T) {
		known := filepath.Join(t.TempDir(), "known_hosts")
		require.NoError(t, os.WriteFile(known, nil, 0600))
		cfg, err := ClientConfig(remote.SSHConfig{User: "u", Password: "p", KnownHostsFile: known})
		require.NoError(t, err)
		assert.NotNil(t, cfg.HostKeyCallback)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ClientConfig(remote.SSHConfig{User: "u", InsecureHostKey: true})
		assert.ErrorContains(t, err, "no authentication")

		_, err = ClientConfig(remote.SSHConfig{User: "u", Password: "p"})
		assert.ErrorContains(t, err, "host key")

		_, err = ClientConfig(remote.SSHConfig{User: "u", Password: "p", KnownHostsFile: "/nonexistent/known_hosts"})
		assert.Error(t, err)

		_, err = ClientConfig(remote.SSHConfig{User: "u", KeyFile: writeKey(t, "locked"), InsecureHostKey: true})
		assert.Error(t, err)
	})
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, remote.Config{SSH: remote.SSHConfig{
		User: "u", Addr: "127.0.0.1:1", Password: "p", InsecureHostKey: true, Timeout: time.Second,
	}})
	assert.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'./rustBackup'`, shellQuote("./rustBackup"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestRemotePath(t *testing.T) {
	assert.Equal(t, "./rustBackup", remotePath("rustBackup", ""))
	assert.Equal(t, "./rustBackup/a.tar.gz", remotePath("rustBackup", "a.tar.gz"))
	assert.Equal(t, "./.a.tar.gz.part", remotePath(".", ".a.tar.gz.part"))
	assert.Equal(t, "/srv/backups", remotePath("/srv/backups", ""))
	assert.Equal(t, "/srv/backups/a.tar.gz", remotePath("/srv/backups", "a.tar.gz"))
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", "../etc", "x\ny"} {
		assert.Error(t, validateName(bad), bad)
	}
	assert.NoError(t, validateName("2024-01-01_03-04-05_PM.tar.gz"))
}

func TestCtxReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ctxReader{ctx: ctx, r: strings.NewReader("data")}

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}
