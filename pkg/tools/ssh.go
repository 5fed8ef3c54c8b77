package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/prismsec/prism/pkg/settings"
)

const (
	// commandTimeout bounds one remote command, dial included.
	commandTimeout = 30 * time.Second

	defaultSSHPort = 22
)

// keyAlgorithms is the fixed attempt order for private-key material:
// RSA, Ed25519, ECDSA, DSS.
var keyAlgorithms = []struct {
	name   string
	accept func(keyType string) bool
}{
	{"RSA", func(t string) bool { return t == ssh.KeyAlgoRSA }},
	{"Ed25519", func(t string) bool { return t == ssh.KeyAlgoED25519 }},
	{"ECDSA", func(t string) bool {
		return t == ssh.KeyAlgoECDSA256 || t == ssh.KeyAlgoECDSA384 || t == ssh.KeyAlgoECDSA521
	}},
	{"DSS", func(t string) bool { return t == ssh.KeyAlgoDSA }},
}

// KeyParseError reports a private key that no supported algorithm could
// load, one entry per attempt.
type KeyParseError struct {
	Attempts []string
}

func (e *KeyParseError) Error() string {
	return "private key rejected by all supported algorithms: " + strings.Join(e.Attempts, "; ")
}

// ParsePrivateKey loads PEM key material, trying RSA, Ed25519, ECDSA and DSS
// in that order. When every algorithm fails the returned error lists each
// attempt.
func ParsePrivateKey(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	var signer ssh.Signer
	var parseErr error
	if passphrase != "" {
		signer, parseErr = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, parseErr = ssh.ParsePrivateKey(pemBytes)
	}

	attempts := make([]string, 0, len(keyAlgorithms))
	for _, alg := range keyAlgorithms {
		if parseErr != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %s", alg.name, parseErr))
			continue
		}
		if alg.accept(signer.PublicKey().Type()) {
			return signer, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: key material is %s", alg.name, signer.PublicKey().Type()))
	}
	return nil, &KeyParseError{Attempts: attempts}
}

// SSHExecutor runs shell commands on inventory assets.
type SSHExecutor struct {
	store  *settings.Store
	logger *slog.Logger
}

// NewSSHExecutor creates an executor reading assets and keys from store.
func NewSSHExecutor(store *settings.Store, logger *slog.Logger) *SSHExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHExecutor{store: store, logger: logger}
}

// Execute runs command on the asset identified by target (IP or name).
func (e *SSHExecutor) Execute(ctx context.Context, target, command string) map[string]any {
	snapshot, err := e.store.Get(ctx)
	if err != nil {
		return errorResult("failed to load settings: %s", err)
	}
	asset, ok := snapshot.FindAsset(target)
	if !ok {
		return errorResult("asset %q not found in inventory", target)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	client, err := dialAsset(ctx, asset, snapshot)
	if err != nil {
		return errorResult("SSH connection to %s failed: %s", asset.IP, err)
	}
	defer client.Close()

	plan := planCommand(command, asset)

	e.logger.Info("Executing host command",
		"target", asset.IP, "user", asset.Username, "sudo_stdin", plan.stdin != "")

	stdout, stderr, exitCode, err := runCommand(ctx, client, plan.command, plan.stdin)
	if err != nil {
		return errorResult("command execution on %s failed: %s", asset.IP, err)
	}

	result := map[string]any{
		"status":  "success",
		"target":  asset.IP,
		"command": plan.command,
		"stdout":  stdout,
		"stderr":  stderr,
	}

	// One observable no-sudo retry when the privileged form fails.
	if exitCode != 0 && plan.fallback != "" && plan.fallback != plan.command {
		e.logger.Warn("Sudo execution failed, retrying without sudo",
			"target", asset.IP, "exit_code", exitCode)
		stdout, stderr, _, err = runCommand(ctx, client, plan.fallback, "")
		if err != nil {
			return errorResult("command execution on %s failed: %s", asset.IP, err)
		}
		result["command"] = plan.fallback
		result["stdout"] = stdout
		result["stderr"] = stderr
		result["sudo_fallback"] = true
	}
	return result
}

// commandPlan is the OS- and privilege-adjusted form of one command.
type commandPlan struct {
	command  string
	stdin    string // fed to remote stdin (the sudo -S password)
	fallback string // no-sudo retry form, empty when not applicable
}

// planCommand applies the sudo policy. Root never needs sudo, so any prefix
// is stripped. Other users get the -S form with the stored password on
// stdin. Windows assets take the command verbatim.
func planCommand(command string, asset *settings.Asset) commandPlan {
	if strings.EqualFold(asset.OS, "windows") {
		return commandPlan{command: command}
	}
	if asset.Username == "root" {
		return commandPlan{command: stripSudo(command)}
	}
	if strings.Contains(command, "sudo") {
		elevated := command
		if !strings.Contains(elevated, "sudo -S") {
			elevated = strings.Replace(elevated, "sudo ", "sudo -S ", 1)
		}
		return commandPlan{
			command:  elevated,
			stdin:    asset.Password + "\n",
			fallback: stripSudo(command),
		}
	}
	return commandPlan{command: command}
}

// stripSudo removes a leading sudo invocation.
func stripSudo(command string) string {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range []string{"sudo -S ", "sudo "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimPrefix(trimmed, prefix)
		}
	}
	return trimmed
}

// dialAsset opens an SSH connection authenticated by the asset's password or
// its referenced keystore entry.
func dialAsset(ctx context.Context, asset *settings.Asset, snapshot *settings.Snapshot) (*ssh.Client, error) {
	auth, err := authMethods(asset, snapshot)
	if err != nil {
		return nil, err
	}

	port := asset.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(asset.IP, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            asset.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // inventory hosts carry no known_hosts
		Timeout:         commandTimeout,
	}

	// ssh.Dial takes no context; dial the TCP leg ourselves so
	// cancellation covers the whole connect.
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func authMethods(asset *settings.Asset, snapshot *settings.Snapshot) ([]ssh.AuthMethod, error) {
	if asset.SSHKeyID != "" {
		key, ok := snapshot.FindKey(asset.SSHKeyID)
		if !ok {
			return nil, fmt.Errorf("SSH key %q not found in keystore", asset.SSHKeyID)
		}
		signer, err := ParsePrivateKey([]byte(key.PrivateKey), key.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if asset.Password != "" {
		return []ssh.AuthMethod{ssh.Password(asset.Password)}, nil
	}
	return nil, fmt.Errorf("asset %s has neither a password nor an SSH key", asset.IP)
}

// runCommand executes one command on an established connection, honouring
// ctx. Non-zero exits are reported through exitCode, not err.
func runCommand(ctx context.Context, client *ssh.Client, command, stdin string) (stdout, stderr string, exitCode int, err error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Tear the connection down so the remote side sees the abort.
		client.Close()
		return "", "", 0, fmt.Errorf("command aborted: %w", ctx.Err())
	case runErr := <-done:
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
		}
		if runErr != nil {
			return outBuf.String(), errBuf.String(), 0, runErr
		}
		return outBuf.String(), errBuf.String(), 0, nil
	}
}
