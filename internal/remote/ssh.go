package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/felixgeelhaar/warden/internal/command"
)

// Connector opens a session to a host.
type Connector interface {
	Connect(ctx context.Context, host Host) (Session, error)
}

// Session runs commands on a connected host.
type Session interface {
	// Run executes spec and returns the remote exit code. A non-nil error
	// means the command did not complete: the transport failed or ctx ended.
	Run(ctx context.Context, spec *command.Spec, stdout, stderr io.Writer) (int, error)
	Close() error
}

// SSHConfig configures an SSHConnector.
type SSHConfig struct {
	ConnectTimeout time.Duration
	// GraceWindow is how long a cancelled command gets after SIGTERM before
	// the session is torn down.
	GraceWindow time.Duration
	// KnownHostsFile is used for hosts that do not set their own. Empty
	// means ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	// AgentSocket overrides $SSH_AUTH_SOCK.
	AgentSocket string
}

// DefaultSSHConfig returns a 10s connect timeout and 2s grace window.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		ConnectTimeout: 10 * time.Second,
		GraceWindow:    2 * time.Second,
	}
}

// SSHConnector connects with golang.org/x/crypto/ssh.
type SSHConnector struct {
	cfg SSHConfig
}

// NewSSHConnector returns a connector using cfg.
func NewSSHConnector(cfg SSHConfig) *SSHConnector {
	return &SSHConnector{cfg: cfg}
}

// Connect implements Connector. The dial and the handshake both stop when
// ctx is done.
func (c *SSHConnector) Connect(ctx context.Context, host Host) (Session, error) {
	if host.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	auth, closers, err := c.authMethods(host.Credential)
	closeAll := func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}
	if err != nil {
		closeAll()
		return nil, err
	}

	hostKeyCallback, err := c.hostKeyCallback(host)
	if err != nil {
		closeAll()
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.ConnectTimeout,
	}

	addr := host.Addr()
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAll()
		return nil, err
	}

	if c.cfg.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	interrupted := !stop()
	closeAll()
	if err != nil {
		_ = conn.Close()
		if interrupted {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if interrupted {
		_ = clientConn.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{
		client: ssh.NewClient(clientConn, chans, reqs),
		grace:  c.cfg.GraceWindow,
	}, nil
}

func (c *SSHConnector) authMethods(cred Credential) ([]ssh.AuthMethod, []io.Closer, error) {
	var (
		methods []ssh.AuthMethod
		closers []io.Closer
	)

	if cred.KeyFile != "" {
		signer, err := loadSigner(cred.KeyFile, os.Getenv(cred.PassphraseEnv))
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cred.Agent {
		socket := c.cfg.AgentSocket
		if socket == "" {
			socket = os.Getenv("SSH_AUTH_SOCK")
		}
		if socket == "" {
			return nil, nil, fmt.Errorf("ssh agent requested but SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
		}
		closers = append(closers, conn)
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if cred.PasswordEnv != "" {
		password := os.Getenv(cred.PasswordEnv)
		if password == "" {
			return nil, closers, fmt.Errorf("password variable %s is empty", cred.PasswordEnv)
		}
		methods = append(methods, ssh.Password(password))
	}

	if len(methods) == 0 {
		return nil, closers, fmt.Errorf("no credentials configured")
	}
	return methods, closers, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

func (c *SSHConnector) hostKeyCallback(host Host) (ssh.HostKeyCallback, error) {
	if c.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := strings.TrimSpace(host.KnownHostsFile)
	if path == "" {
		path = strings.TrimSpace(c.cfg.KnownHostsFile)
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

type sshSession struct {
	client *ssh.Client
	grace  time.Duration
}

func (s *sshSession) Run(ctx context.Context, spec *command.Spec, stdout, stderr io.Writer) (int, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	sess.Stdout = stdout
	sess.Stderr = stderr
	if err := sess.Start(remoteCommand(spec)); err != nil {
		return -1, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		return remoteExit(err)
	case <-ctx.Done():
	}

	_ = sess.Signal(ssh.SIGTERM)
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
	}
	return -1, ctx.Err()
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

func remoteExit(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

// remoteCommand prefixes the command with exports for the command's env
// overrides, since most sshd configurations reject setenv requests.
func remoteCommand(spec *command.Spec) string {
	if len(spec.Env) == 0 {
		return spec.Text()
	}
	env := append([]string(nil), spec.Env...)
	sort.Strings(env)

	var b strings.Builder
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(v))
		b.WriteString("; ")
	}
	b.WriteString(spec.Text())
	return b.String()
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
