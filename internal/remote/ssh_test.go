package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
)

type testServer struct {
	host    Host
	hostKey ssh.PublicKey
}

// startSSHServer runs a minimal exec-only SSH server that accepts the given
// client key or password. Commands containing "fail" exit 3 with stderr;
// commands containing "hang" never finish; anything else echoes itself.
func startSSHServer(t *testing.T, clientKey ssh.PublicKey, password string) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if clientKey != nil && bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unauthorized key")
		},
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if password != "" && string(pw) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("bad password")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &testServer{
		host:    Host{Name: "test", Address: "127.0.0.1", Port: addr.Port, User: "ops"},
		hostKey: hostSigner.PublicKey(),
	}
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, creqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		var status uint32
		switch {
		case strings.Contains(payload.Command, "hang"):
			// Wait for a signal request, then exit as if terminated.
			for r := range reqs {
				if r.Type == "signal" {
					status = 143
					break
				}
			}
		case strings.Contains(payload.Command, "fail"):
			_, _ = io.WriteString(ch.Stderr(), "remote failure\n")
			status = 3
		default:
			_, _ = io.WriteString(ch, "ran: "+payload.Command+"\n")
		}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

func writeKnownHosts(t *testing.T, srv *testServer) string {
	t.Helper()
	line := knownhosts.Line([]string{srv.host.Addr()}, srv.hostKey)
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
	return path
}

func testSSHConfig() SSHConfig {
	cfg := DefaultSSHConfig()
	cfg.ConnectTimeout = 5 * time.Second
	cfg.GraceWindow = 500 * time.Millisecond
	return cfg
}

func TestSSHKeyAuthWithKnownHosts(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startSSHServer(t, pub, "")

	host := srv.host
	host.Credential = Credential{KeyFile: keyPath}
	host.KnownHostsFile = writeKnownHosts(t, srv)

	sess, err := NewSSHConnector(testSSHConfig()).Connect(context.Background(), host)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	spec := &command.Spec{Raw: "uptime", Sanitized: "uptime", Env: []string{"GIT_TERMINAL_PROMPT=0"}}
	code, err := sess.Run(context.Background(), spec, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ran: export GIT_TERMINAL_PROMPT='0'; uptime\n", stdout.String())

	code, err = sess.Run(context.Background(), &command.Spec{Raw: "fail now"}, &stdout, &stderr)
	require.NoError(t, err, "a non-zero exit is not a transport error")
	assert.Equal(t, 3, code)
	assert.Equal(t, "remote failure\n", stderr.String())
}

func TestSSHPasswordAuth(t *testing.T) {
	srv := startSSHServer(t, nil, "s3cret")
	t.Setenv("WARDEN_TEST_SSH_PASSWORD", "s3cret")

	host := srv.host
	host.Credential = Credential{PasswordEnv: "WARDEN_TEST_SSH_PASSWORD"}

	cfg := testSSHConfig()
	cfg.InsecureIgnoreHostKey = true
	sess, err := NewSSHConnector(cfg).Connect(context.Background(), host)
	require.NoError(t, err)
	assert.NoError(t, sess.Close())
}

func TestSSHRejectsUnknownHostKey(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startSSHServer(t, pub, "")

	empty := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	host := srv.host
	host.Credential = Credential{KeyFile: keyPath}
	host.KnownHostsFile = empty

	_, err := NewSSHConnector(testSSHConfig()).Connect(context.Background(), host)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "knownhosts")
}

func TestSSHWrongKeyFails(t *testing.T) {
	_, authorized := writeClientKey(t)
	otherKey, _ := writeClientKey(t)
	srv := startSSHServer(t, authorized, "")

	host := srv.host
	host.Credential = Credential{KeyFile: otherKey}

	cfg := testSSHConfig()
	cfg.InsecureIgnoreHostKey = true
	_, err := NewSSHConnector(cfg).Connect(context.Background(), host)
	assert.Error(t, err)
}

func TestSSHCredentialErrors(t *testing.T) {
	c := NewSSHConnector(testSSHConfig())

	_, err := c.Connect(context.Background(), Host{Address: "127.0.0.1", User: "ops"})
	assert.ErrorContains(t, err, "no credentials")

	_, err = c.Connect(context.Background(), Host{Address: "127.0.0.1"})
	assert.ErrorContains(t, err, "user is required")

	t.Setenv("SSH_AUTH_SOCK", "")
	_, err = c.Connect(context.Background(), Host{Address: "127.0.0.1", User: "ops", Credential: Credential{Agent: true}})
	assert.ErrorContains(t, err, "SSH_AUTH_SOCK")
}

func TestSSHRunCancelSendsSignal(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startSSHServer(t, pub, "")

	host := srv.host
	host.Credential = Credential{KeyFile: keyPath}
	cfg := testSSHConfig()
	cfg.InsecureIgnoreHostKey = true

	sess, err := NewSSHConnector(cfg).Connect(context.Background(), host)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = sess.Run(ctx, &command.Spec{Raw: "hang"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatcherOverSSH(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startSSHServer(t, pub, "")

	good := srv.host
	good.Name = "good"
	good.Credential = Credential{KeyFile: keyPath}

	// Nothing listens on port 1 of the loopback interface.
	dead := Host{Name: "dead", Address: "127.0.0.1", Port: 1, User: "ops", Credential: Credential{KeyFile: keyPath}}

	reg, err := NewStaticRegistry(good, dead)
	require.NoError(t, err)

	cfg := testSSHConfig()
	cfg.InsecureIgnoreHostKey = true
	d := NewDispatcher(reg, NewSSHConnector(cfg), WithLogger(log.Discard()))

	agg, err := d.Dispatch(context.Background(), benignSpec("hostname"), []string{"good", "dead"}, DispatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, SummaryPartialFailure, agg.Summary)
	g, _ := agg.ByHost("good")
	assert.True(t, g.Success)
	assert.Equal(t, "ran: hostname\n", g.Stdout)

	x, _ := agg.ByHost("dead")
	assert.True(t, errors.IsKind(x.Err, errors.KindConnection))
	assert.Equal(t, -1, x.ExitCode)
}
