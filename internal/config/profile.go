/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package config loads connection profiles: which carrier connects the controller
// to a debugger backend, how the backend is started, and which program it debugs.
package config

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
)

type TransportKind string

const (
	// TransportInProcess runs the backend inside the controller process.
	TransportInProcess TransportKind = "inprocess"
	// TransportLocal launches the backend as a child process speaking the protocol over its stdio.
	TransportLocal TransportKind = "local"
	// TransportSSH starts the backend on a remote machine through SSH.
	TransportSSH TransportKind = "ssh"
	// TransportSocket connects to a backend that is already listening on a socket.
	TransportSocket TransportKind = "socket"
)

const (
	EnvSSHHost   = "DBG_SSH_HOST"
	EnvSSHUser   = "DBG_SSH_USER"
	EnvByteOrder = "DBG_BYTE_ORDER"
)

// DefaultEngine is the engine run by in-process backends when none is configured.
const DefaultEngine = "sim"

var ErrInvalidProfile = errors.New("invalid connection profile")

type BackendProfile struct {
	// Command and Args start the backend host (local transport only).
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// EnvFiles are .env files applied to the backend environment. Relative paths are resolved against the profile file.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Env entries override values read from EnvFiles.
	Env map[string]string `yaml:"env,omitempty"`

	// Engine selects the engine of an in-process backend.
	Engine string `yaml:"engine,omitempty"`
}

type SocketProfile struct {
	Network string `yaml:"network,omitempty"` // "unix" or "tcp"
	Address string `yaml:"address"`
}

type SSHProfile struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port,omitempty"`
	User                  string `yaml:"user"`
	IdentityFile          string `yaml:"identityFile,omitempty"`
	KnownHostsFile        string `yaml:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecureIgnoreHostKey,omitempty"`
	RemoteCommand         string `yaml:"remoteCommand"`
}

type InferiorProfile struct {
	Executable       string   `yaml:"executable,omitempty"`
	Arguments        []string `yaml:"arguments,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"workingDirectory,omitempty"`
	BreakOnMain      bool     `yaml:"breakOnMain,omitempty"`
	UseTerminal      bool     `yaml:"useTerminal,omitempty"`
	AttachPID        int64    `yaml:"attachPid,omitempty"`
}

// Profile is a connection profile as stored in a YAML file.
type Profile struct {
	Transport TransportKind  `yaml:"transport"`
	Backend   BackendProfile `yaml:"backend,omitempty"`
	Socket    SocketProfile  `yaml:"socket,omitempty"`
	SSH       SSHProfile     `yaml:"ssh,omitempty"`

	// ByteOrder of frame headers: "native", "little" or "big". Empty means native.
	ByteOrder string `yaml:"byteOrder,omitempty"`

	// TeardownTimeout bounds the best-effort ShutdownEngine sent when the session ends, e.g. "3s".
	TeardownTimeout time.Duration `yaml:"teardownTimeout,omitempty"`

	Inferior InferiorProfile `yaml:"inferior,omitempty"`

	// dir is the directory of the profile file, used to resolve relative paths.
	dir string
}

// Default returns the profile used when no profile file is given: an in-process simulated backend.
func Default() *Profile {
	return &Profile{
		Transport: TransportInProcess,
		Backend:   BackendProfile{Engine: DefaultEngine},
	}
}

// Parse decodes a profile. Unknown fields are rejected so that typos do not go unnoticed.
func Parse(data []byte) (*Profile, error) {
	var profile Profile

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&profile); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to parse connection profile: %w", err)
	}

	if profile.Transport == "" {
		profile.Transport = TransportInProcess
	}
	if profile.Transport == TransportInProcess && profile.Backend.Engine == "" {
		profile.Backend.Engine = DefaultEngine
	}
	if profile.Transport == TransportSocket && profile.Socket.Network == "" {
		profile.Socket.Network = "unix"
	}
	return &profile, nil
}

// Load reads the profile file at path, applies environment overrides and validates the result.
func Load(path string) (*Profile, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("unable to read connection profile: %w", readErr)
	}

	profile, parseErr := Parse(data)
	if parseErr != nil {
		return nil, fmt.Errorf("%s: %w", path, parseErr)
	}
	profile.dir = filepath.Dir(path)

	profile.ApplyEnv(os.LookupEnv)
	if validationErr := profile.Validate(); validationErr != nil {
		return nil, fmt.Errorf("%s: %w", path, validationErr)
	}
	return profile, nil
}

// ApplyEnv overrides profile settings with the DBG_* environment variables that are set.
func (p *Profile) ApplyEnv(lookup func(string) (string, bool)) {
	if host, found := lookup(EnvSSHHost); found && host != "" {
		p.SSH.Host = host
	}
	if user, found := lookup(EnvSSHUser); found && user != "" {
		p.SSH.User = user
	}
	if order, found := lookup(EnvByteOrder); found && order != "" {
		p.ByteOrder = order
	}
}

// Validate checks that the settings needed by the selected transport are present.
// All problems are reported together.
func (p *Profile) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidProfile, fmt.Sprintf(format, args...)))
	}

	switch p.Transport {
	case TransportInProcess:
		if p.Backend.Engine != DefaultEngine {
			invalid("backend.engine '%s' is not supported (supported engines: %s)", p.Backend.Engine, DefaultEngine)
		}
	case TransportLocal:
		if p.Backend.Command == "" {
			invalid("backend.command is required for the %s transport", p.Transport)
		}
	case TransportSSH:
		if p.SSH.Host == "" {
			invalid("ssh.host is required for the %s transport (or set %s)", p.Transport, EnvSSHHost)
		}
		if p.SSH.User == "" {
			invalid("ssh.user is required for the %s transport (or set %s)", p.Transport, EnvSSHUser)
		}
		if p.SSH.RemoteCommand == "" {
			invalid("ssh.remoteCommand is required for the %s transport", p.Transport)
		}
		if p.SSH.Port < 0 || p.SSH.Port > 65535 {
			invalid("ssh.port %d is out of range", p.SSH.Port)
		}
	case TransportSocket:
		if p.Socket.Network != "unix" && p.Socket.Network != "tcp" {
			invalid("socket.network must be 'unix' or 'tcp', not '%s'", p.Socket.Network)
		}
		if p.Socket.Address == "" {
			invalid("socket.address is required for the %s transport", p.Transport)
		}
	default:
		invalid("transport '%s' is not one of %s, %s, %s, %s", p.Transport, TransportInProcess, TransportLocal, TransportSSH, TransportSocket)
	}

	if _, orderErr := enginerpc.ParseByteOrder(p.ByteOrder); orderErr != nil {
		invalid("byteOrder: %v", orderErr)
	}
	if p.TeardownTimeout < 0 {
		invalid("teardownTimeout must not be negative")
	}

	return errors.Join(errs...)
}

// HeaderByteOrder returns the byte order of frame headers.
func (p *Profile) HeaderByteOrder() binary.ByteOrder {
	order, err := enginerpc.ParseByteOrder(p.ByteOrder)
	if err != nil {
		// Validate rejects unknown byte orders.
		return binary.NativeEndian
	}
	return order
}

// BackendEnv returns the KEY=VALUE environment entries for the backend host,
// read from the env files and then overridden by explicit entries.
func (p *Profile) BackendEnv() ([]string, error) {
	env := map[string]string{}

	if len(p.Backend.EnvFiles) > 0 {
		files := make([]string, len(p.Backend.EnvFiles))
		for i, f := range p.Backend.EnvFiles {
			files[i] = p.resolvePath(f)
		}

		fileEnv, readErr := godotenv.Read(files...)
		if readErr != nil {
			return nil, fmt.Errorf("unable to read backend environment files %v: %w", files, readErr)
		}
		maps.Copy(env, fileEnv)
	}
	maps.Copy(env, p.Backend.Env)

	entries := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		entries = append(entries, key+"="+env[key])
	}
	return entries, nil
}

// LaunchConfig returns the settings for starting a local backend host.
// The backend is told which header byte order to use.
func (p *Profile) LaunchConfig(log logr.Logger) (enginerpc.LaunchConfig, error) {
	env, envErr := p.BackendEnv()
	if envErr != nil {
		return enginerpc.LaunchConfig{}, envErr
	}

	args := slices.Clone(p.Backend.Args)
	args = append(args, "--byte-order", enginerpc.ByteOrderName(p.HeaderByteOrder()))

	return enginerpc.LaunchConfig{
		Command: p.Backend.Command,
		Args:    args,
		Env:     env,
		Log:     log,
	}, nil
}

// SSHConfig returns the settings for starting the backend through SSH.
func (p *Profile) SSHConfig(log logr.Logger) enginerpc.SSHConfig {
	cfg := enginerpc.SSHConfig{
		Host:                  p.SSH.Host,
		Port:                  p.SSH.Port,
		User:                  p.SSH.User,
		InsecureIgnoreHostKey: p.SSH.InsecureIgnoreHostKey,
		RemoteCommand:         p.SSH.RemoteCommand,
		Log:                   log,
	}
	if p.SSH.IdentityFile != "" {
		cfg.IdentityFile = p.resolvePath(p.SSH.IdentityFile)
	}
	if p.SSH.KnownHostsFile != "" {
		cfg.KnownHostsFile = p.resolvePath(p.SSH.KnownHostsFile)
	}
	return cfg
}

// InferiorParams returns the SetupInferior payload for the program to debug.
func (p *Profile) InferiorParams() enginerpc.SetupInferiorParams {
	return enginerpc.SetupInferiorParams{
		Executable:       p.Inferior.Executable,
		Arguments:        slices.Clone(p.Inferior.Arguments),
		Environment:      slices.Clone(p.Inferior.Environment),
		WorkingDirectory: p.Inferior.WorkingDirectory,
		BreakOnMain:      p.Inferior.BreakOnMain,
		UseTerminal:      p.Inferior.UseTerminal,
		AttachPID:        p.Inferior.AttachPID,
	}
}

func (p *Profile) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}
