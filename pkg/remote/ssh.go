package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach nodes.
type SSHConfig struct {
	User       string
	Port       int
	KeyFile    string
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification. Test labs only.
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
	// Sudo prefixes every command with `sudo -n` for non-root users.
	Sudo bool
}

// SSHHost runs commands over one SSH connection, a session per command.
type SSHHost struct {
	name   string
	client *ssh.Client
	sudo   bool
}

// DialSSH connects to address with cfg.
func DialSSH(ctx context.Context, name, address string, cfg SSHConfig) (*SSHHost, error) {
	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(address, strconv.Itoa(port))

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &SSHHost{
		name:   name,
		client: ssh.NewClient(c, chans, reqs),
		sudo:   cfg.Sudo && cfg.User != "root",
	}, nil
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.KeyFile == "" {
		return nil, ErrNoAuthMethod
	}
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
	}

	var hostKeys ssh.HostKeyCallback
	switch {
	case cfg.InsecureIgnoreHostKey:
		hostKeys = ssh.InsecureIgnoreHostKey()
	case cfg.KnownHosts != "":
		hostKeys, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	default:
		return nil, ErrHostKeyMissing
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}, nil
}

func (h *SSHHost) Name() string { return h.name }

func (h *SSHHost) commandLine(argv []string) string {
	line := shellquote.Join(argv...)
	if h.sudo {
		line = "sudo -n " + line
	}
	return line
}

func (h *SSHHost) Run(ctx context.Context, argv ...string) ([]byte, error) {
	return h.RunWithInput(ctx, nil, argv...)
}

func (h *SSHHost) RunWithInput(ctx context.Context, stdin []byte, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	sess, err := h.client.NewSession()
	if err != nil {
		return nil, &CommandError{Host: h.name, Args: argv, ExitCode: -1, Err: fmt.Errorf("open session: %w", err)}
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(h.commandLine(argv)) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		err = ctx.Err()
	}

	if err != nil {
		return out.Bytes(), &CommandError{
			Host:     h.name,
			Args:     argv,
			Output:   out.String(),
			ExitCode: errToExitCode(err),
			Err:      err,
		}
	}
	return out.Bytes(), nil
}

func (h *SSHHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	ok, err := h.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotExist
	}
	// stdout only; stderr would corrupt the content
	sess, err := h.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	var stderr bytes.Buffer
	sess.Stderr = &stderr
	data, err := sess.Output(h.commandLine([]string{"cat", "--", path}))
	if err != nil {
		return nil, &CommandError{Host: h.name, Args: []string{"cat", path}, Output: stderr.String(), ExitCode: errToExitCode(err), Err: err}
	}
	return data, nil
}

// new files are created 0600 and owned like their directory
const writeFileScript = `f=$1
if [ -e "$f" ]; then cat > "$f"; exit; fi
umask 077
cat > "$f" && chown --reference="$(dirname -- "$f")" -- "$f"`

func (h *SSHHost) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := h.RunWithInput(ctx, data, "sh", "-c", writeFileScript, "pgha-write", path)
	return err
}

func (h *SSHHost) Exists(ctx context.Context, path string) (bool, error) {
	_, err := h.Run(ctx, "test", "-e", path)
	if err == nil {
		return true, nil
	}
	if ExitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

func (h *SSHHost) RemoveAll(ctx context.Context, path string) error {
	if err := checkRemovable(path); err != nil {
		return err
	}
	_, err := h.Run(ctx, "rm", "-rf", "--", strings.TrimRight(path, "/"))
	return err
}

func (h *SSHHost) Close() error {
	return h.client.Close()
}
