/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

const DefaultSSHPort = 22

var ErrInvalidSSHConfig = errors.New("invalid SSH configuration")

// SSHConfig describes a backend host started on a remote machine through SSH.
// The remote command must speak the protocol over its standard streams.
type SSHConfig struct {
	Host string
	Port int
	User string

	// IdentityFile is the private key used to authenticate. Defaults to ~/.ssh/id_ed25519, then ~/.ssh/id_rsa.
	IdentityFile string

	// KnownHostsFile is used to verify the host key. Defaults to ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification. It must be set explicitly.
	InsecureIgnoreHostKey bool

	RemoteCommand string

	// DialTimeout bounds connection retries. Defaults to DefaultDialTimeout, or DBG_DIAL_TIMEOUT if set.
	DialTimeout time.Duration

	Log logr.Logger
}

func (c SSHConfig) address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// DialSSH connects to the remote host, starts the backend command and returns a transport
// connected to the command's stdin and stdout. The remote stderr is logged line by line.
func DialSSH(ctx context.Context, config SSHConfig) (Transport, error) {
	if config.Host == "" || config.User == "" || config.RemoteCommand == "" {
		return nil, fmt.Errorf("%w: host, user and remote command are required", ErrInvalidSSHConfig)
	}
	log := config.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	clientConfig, configErr := newSSHClientConfig(config)
	if configErr != nil {
		return nil, configErr
	}

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = dialTimeout()
	}

	addr := config.address()
	client, dialErr := resiliency.RetryGet(ctx, resiliency.DialBackoff(timeout), func() (*ssh.Client, error) {
		var d net.Dialer
		conn, connErr := d.DialContext(ctx, "tcp", addr)
		if connErr != nil {
			return nil, connErr
		}

		sshConn, chans, reqs, handshakeErr := ssh.NewClientConn(conn, addr, clientConfig)
		if handshakeErr != nil {
			_ = conn.Close()
			// Authentication and host key failures will not go away by retrying.
			return nil, resiliency.Permanent(handshakeErr)
		}
		return ssh.NewClient(sshConn, chans, reqs), nil
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to connect to %s@%s: %w", config.User, addr, dialErr)
	}

	session, sessionErr := client.NewSession()
	if sessionErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open SSH session on %s: %w", addr, sessionErr)
	}

	stdin, stdinErr := session.StdinPipe()
	stdout, stdoutErr := session.StdoutPipe()
	stderr, stderrErr := session.StderrPipe()
	if pipeErr := errors.Join(stdinErr, stdoutErr, stderrErr); pipeErr != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to set up SSH session streams: %w", pipeErr)
	}

	if startErr := session.Start(config.RemoteCommand); startErr != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to start remote debugger backend '%s': %w", config.RemoteCommand, startErr)
	}

	remoteLog := log.WithValues("host", addr)
	go logLines(stderr, remoteLog, "Remote debugger backend stderr")

	remoteLog.Info("Started remote debugger backend", "command", config.RemoteCommand)

	return &streamTransport{
		reader:  stdout,
		writer:  stdin,
		closers: []io.Closer{stdin, session, client},
		carrier: "ssh:" + config.User + "@" + addr,
	}, nil
}

func newSSHClientConfig(config SSHConfig) (*ssh.ClientConfig, error) {
	signer, keyErr := loadIdentity(config.IdentityFile)
	if keyErr != nil {
		return nil, keyErr
	}

	var hostKeyCallback ssh.HostKeyCallback
	if config.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		knownHostsFile := config.KnownHostsFile
		if knownHostsFile == "" {
			home, homeErr := os.UserHomeDir()
			if homeErr != nil {
				return nil, fmt.Errorf("%w: cannot locate known_hosts: %w", ErrInvalidSSHConfig, homeErr)
			}
			knownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
		}

		callback, knownHostsErr := knownhosts.New(knownHostsFile)
		if knownHostsErr != nil {
			return nil, fmt.Errorf("%w: failed to read known hosts file '%s': %w", ErrInvalidSSHConfig, knownHostsFile, knownHostsErr)
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         DefaultDialTimeout,
	}, nil
}

func loadIdentity(identityFile string) (ssh.Signer, error) {
	candidates := []string{identityFile}
	if identityFile == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return nil, fmt.Errorf("%w: cannot locate identity file: %w", ErrInvalidSSHConfig, homeErr)
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}

	var errs []error
	for _, path := range candidates {
		pem, readErr := os.ReadFile(path)
		if readErr != nil {
			errs = append(errs, readErr)
			continue
		}

		signer, parseErr := ssh.ParsePrivateKey(pem)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: failed to parse private key '%s': %w", ErrInvalidSSHConfig, path, parseErr)
		}
		return signer, nil
	}

	return nil, fmt.Errorf("%w: no usable identity file: %w", ErrInvalidSSHConfig, errors.Join(errs...))
}
