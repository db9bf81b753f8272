// Package remote runs commands and touches files on cluster nodes.
//
// A Host is either an SSH connection (SSHHost) or the local machine
// (LocalHost). Both report failed commands as *CommandError so callers can
// branch on exit codes without caring about the transport.
package remote
