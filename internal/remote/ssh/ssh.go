// Package ssh stores archives on a host reachable over SSH, such as a storage box.
//
// Directory listing and removal run as plain commands in an exec session
// (ls, rm -rf), which restricted storage-box shells support; file transfer
// goes over SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/lucasew/dumpkeeper/internal/eviction"
	"github.com/lucasew/dumpkeeper/internal/remote"
	"github.com/pkg/sftp"
	"github.com/schollz/progressbar/v3"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func init() {
	remote.Register("ssh", func(ctx context.Context, cfg remote.Config) (remote.Store, error) {
		return Dial(ctx, cfg)
	})
}

// Store implements remote.Store over one SSH connection.
type Store struct {
	client   *gossh.Client
	sftp     *sftp.Client
	dir      string
	progress bool
	logger   *slog.Logger
}

// ClientConfig builds the SSH client configuration: key and/or password
// authentication, and host key checking against a known_hosts file unless
// InsecureHostKey is set.
func ClientConfig(cfg remote.SSHConfig) (*gossh.ClientConfig, error) {
	var auth []gossh.AuthMethod

	if cfg.KeyFile != "" {
		signer, err := loadSigner(cfg.KeyFile, cfg.Password)
		if err != nil {
			return nil, err
		}
		auth = append(auth, gossh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			gossh.Password(password),
			gossh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no authentication method configured")
	}

	var hostKey gossh.HostKeyCallback
	switch {
	case cfg.KnownHostsFile != "":
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("ssh: failed to load known hosts: %w", err)
		}
		hostKey = cb
	case cfg.InsecureHostKey:
		slog.Warn("SSH host key verification disabled", "addr", cfg.Addr)
		hostKey = gossh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("ssh: no host key verification configured")
	}

	return &gossh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}, nil
}

func loadSigner(keyFile, passphrase string) (gossh.Signer, error) {
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("ssh: failed to read key file: %w", err)
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	var missing *gossh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("ssh: failed to parse key file: %w", err)
	}
	return signer, nil
}

// Dial connects to the configured host and opens an SFTP subsystem.
func Dial(ctx context.Context, cfg remote.Config) (*Store, error) {
	clientCfg, err := ClientConfig(cfg.SSH)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.SSH.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.SSH.Addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: failed to dial %s: %w", cfg.SSH.Addr, err)
	}
	if cfg.SSH.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.SSH.Timeout))
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, cfg.SSH.Addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh: handshake with %s failed: %w", cfg.SSH.Addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := gossh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ssh: failed to start sftp: %w", err)
	}

	dir := strings.TrimSuffix(cfg.Dir, "/")
	if dir == "" {
		dir = "."
	}

	return &Store{
		client:   client,
		sftp:     sftpClient,
		dir:      dir,
		progress: cfg.Progress,
		logger:   slog.Default().With("component", "remote.ssh", "addr", cfg.SSH.Addr),
	}, nil
}

// run executes cmd in a new session and returns its standard output.
func (s *Store) run(ctx context.Context, cmd string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh: failed to open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(gossh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("ssh: %q failed: %w: %s", cmd, err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	}
}

// pathOf joins name onto the archive directory. Relative directories are
// anchored at the login directory with a leading "./" so ls, rm and SFTP
// all resolve the same location; absolute ones are used as is.
func (s *Store) pathOf(name string) string {
	return remotePath(s.dir, name)
}

func remotePath(dir, name string) string {
	p := path.Join(dir, name)
	if path.IsAbs(p) {
		return p
	}
	return "./" + p
}

// List runs ls on the archive directory. A missing directory is an empty store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	dir := s.pathOf("")
	out, err := s.run(ctx, "ls "+shellQuote(dir))
	if err != nil {
		if _, statErr := s.sftp.Stat(dir); errors.Is(statErr, fs.ErrNotExist) {
			s.logger.Info("Remote directory does not exist yet", "dir", s.dir)
			return nil, nil
		}
		return nil, err
	}
	return eviction.ParseListing(out), nil
}

// Remove deletes name recursively, so archives stored as directories go too.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	target := s.pathOf(name)
	if _, err := s.run(ctx, "rm -rf "+shellQuote(target)); err != nil {
		return err
	}
	s.logger.Info("Removed remote archive", "path", target)
	return nil
}

// Upload streams localPath to a hidden partial file and renames it into place.
func (s *Store) Upload(ctx context.Context, localPath, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := s.pathOf("")
	if err := s.sftp.MkdirAll(dir); err != nil {
		return fmt.Errorf("ssh: failed to create %s: %w", dir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer errutil.CloseLogged(src, "Failed to close archive", "path", localPath)
	info, err := src.Stat()
	if err != nil {
		return err
	}

	partial := s.pathOf("." + name + ".part")
	dst, err := s.sftp.Create(partial)
	if err != nil {
		return fmt.Errorf("ssh: failed to create %s: %w", partial, err)
	}

	var r io.Reader = &ctxReader{ctx: ctx, r: src}
	if s.progress {
		bar := progressbar.NewOptions64(
			info.Size(),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprint(os.Stderr, "\n")
			}),
		)
		r = io.TeeReader(r, bar)
	}

	written, err := io.Copy(dst, r)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		errutil.LogMsg(s.sftp.Remove(partial), "Failed to remove partial upload", "path", partial)
		return fmt.Errorf("ssh: upload of %s failed: %w", name, err)
	}

	final := s.pathOf(name)
	if err := s.sftp.Rename(partial, final); err != nil {
		return fmt.Errorf("ssh: failed to rename %s: %w", partial, err)
	}
	s.logger.Info("Uploaded archive", "path", final, "size", written)
	return nil
}

func (s *Store) Close() error {
	sftpErr := s.sftp.Close()
	clientErr := s.client.Close()
	return errors.Join(sftpErr, clientErr)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00\n") {
		return fmt.Errorf("ssh: refusing unsafe archive name %q", name)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
