// Package config loads the cluster description pgha converges against.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/pacemaker"
	"github.com/dd0wney/cluso-pgha/pkg/pgconf"
	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
	"github.com/dd0wney/cluso-pgha/pkg/remote"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
	"github.com/dd0wney/cluso-pgha/pkg/validation"
)

const (
	DefaultVersion     = "16"
	DefaultPort        = 5432
	DefaultOSUser      = "postgres"
	DefaultSSHPort     = 22
	DefaultSSHTimeout  = 10 * time.Second
	DefaultNetmask     = 24
	DefaultLockFile    = "/run/lock/pgha.lock"
	DefaultJournalPath = "/var/lib/pgha/journal.db"

	MaxVerifyDelay = time.Minute
)

// Config is the whole cluster description.
type Config struct {
	ClusterName     string       `yaml:"cluster_name" validate:"required,hostname_rfc1123"`
	Primary         string       `yaml:"primary" validate:"required"`
	FloatingAddress string       `yaml:"floating_address" validate:"required,ip"`
	Nodes           []NodeConfig `yaml:"nodes" validate:"required,min=1,dive"`

	Postgres    PostgresConfig    `yaml:"postgres"`
	Replication ReplicationConfig `yaml:"replication"`
	Admin       AdminConfig       `yaml:"admin"`
	Access      AccessConfig      `yaml:"access"`
	Resources   ResourcesConfig   `yaml:"resources"`
	SSH         SSHConfig         `yaml:"ssh"`
	Verify      VerifyConfig      `yaml:"verify"`

	Parallelism int    `yaml:"parallelism" validate:"min=1,max=64"`
	LockFile    string `yaml:"lock_file" validate:"required"`
	JournalPath string `yaml:"journal_path"`
	MetricsFile string `yaml:"metrics_file"`
}

// NodeConfig is one cluster member.
type NodeConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Address string `yaml:"address" validate:"required,ip|hostname_rfc1123"`
	SSHPort int    `yaml:"ssh_port" validate:"min=0,max=65535"`
	// Local runs the node's commands on the controller itself.
	Local bool `yaml:"local"`
}

type PostgresConfig struct {
	Version       string            `yaml:"version" validate:"required,numeric"`
	Service       string            `yaml:"service" validate:"required"`
	DataDir       string            `yaml:"data_dir" validate:"required,startswith=/"`
	ConfigDir     string            `yaml:"config_dir"`
	BinDir        string            `yaml:"bin_dir" validate:"required,startswith=/"`
	Port          int               `yaml:"port" validate:"min=1,max=65535"`
	OSUser        string            `yaml:"os_user" validate:"required"`
	Packages      []string          `yaml:"packages"`
	RuntimeConfig map[string]string `yaml:"runtime_config"`
}

type ReplicationConfig struct {
	User       string `yaml:"user" validate:"required,pgident"`
	Password   string `yaml:"password" validate:"required"`
	AuthMethod string `yaml:"auth_method" validate:"oneof=scram-sha-256 md5"`
}

type AdminConfig struct {
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

type AccessConfig struct {
	// ExtraRules are pg_hba.conf lines every node carries after the
	// replication rules.
	ExtraRules []string `yaml:"extra_rules"`
}

type ResourcesConfig struct {
	FloatingIP string `yaml:"floating_ip" validate:"required"`
	Database   string `yaml:"database" validate:"required"`
	Netmask    int    `yaml:"netmask" validate:"min=1,max=32"`
}

type SSHConfig struct {
	User                  string        `yaml:"user"`
	KeyFile               string        `yaml:"key_file"`
	KnownHosts            string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	Timeout               time.Duration `yaml:"timeout"`
	Sudo                  bool          `yaml:"sudo"`
}

type VerifyConfig struct {
	Attempts uint          `yaml:"attempts" validate:"min=1"`
	Delay    time.Duration `yaml:"delay"`
}

// Load reads, defaults, expands and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.expandSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	pg := &c.Postgres
	pg.Version = validation.DefaultOr(pg.Version, DefaultVersion)
	pg.Service = validation.DefaultOr(pg.Service, "postgresql-"+pg.Version)
	pg.DataDir = validation.DefaultOr(pg.DataDir, "/var/lib/pgsql/"+pg.Version+"/data")
	pg.BinDir = validation.DefaultOr(pg.BinDir, "/usr/pgsql-"+pg.Version+"/bin")
	pg.Port = validation.DefaultOr(pg.Port, DefaultPort)
	pg.OSUser = validation.DefaultOr(pg.OSUser, DefaultOSUser)
	if len(pg.Packages) == 0 {
		pg.Packages = []string{"postgresql" + pg.Version + "-server", "postgresql" + pg.Version + "-contrib"}
	}
	if pg.RuntimeConfig == nil {
		pg.RuntimeConfig = map[string]string{
			"listen_addresses": "'*'",
			"wal_level":        "replica",
			"max_wal_senders":  "10",
			"hot_standby":      "on",
		}
	}

	c.Replication.AuthMethod = validation.DefaultOr(c.Replication.AuthMethod, pgconf.MethodSCRAM)
	c.Admin.User = validation.DefaultOr(c.Admin.User, "postgres")
	c.Admin.Database = validation.DefaultOr(c.Admin.Database, "postgres")
	c.Admin.SSLMode = validation.DefaultOr(c.Admin.SSLMode, "prefer")

	c.Resources.FloatingIP = validation.DefaultOr(c.Resources.FloatingIP, c.ClusterName+"-vip")
	c.Resources.Database = validation.DefaultOr(c.Resources.Database, c.ClusterName+"-db")
	c.Resources.Netmask = validation.DefaultOr(c.Resources.Netmask, DefaultNetmask)

	c.SSH.User = validation.DefaultOr(c.SSH.User, "root")
	c.SSH.Timeout = validation.DefaultOrDuration(c.SSH.Timeout, DefaultSSHTimeout)

	c.Verify.Attempts = validation.DefaultOr(c.Verify.Attempts, uint(converge.DefaultVerifyAttempts))
	c.Verify.Delay = validation.DefaultOrDuration(c.Verify.Delay, converge.DefaultVerifyDelay)

	c.Parallelism = validation.DefaultOr(c.Parallelism, converge.DefaultParallelism)
	c.LockFile = validation.DefaultOr(c.LockFile, DefaultLockFile)
	c.JournalPath = validation.DefaultOr(c.JournalPath, DefaultJournalPath)

	for i := range c.Nodes {
		c.Nodes[i].SSHPort = validation.DefaultOr(c.Nodes[i].SSHPort, DefaultSSHPort)
	}
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// ErrUnsetVariable is returned for a ${VAR} reference to an unset variable.
var ErrUnsetVariable = errors.New("environment variable not set")

func expand(field, value string) (string, error) {
	m := envRef.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	v, ok := os.LookupEnv(m[1])
	if !ok {
		return "", fmt.Errorf("%s: %w: %s", field, ErrUnsetVariable, m[1])
	}
	return v, nil
}

func (c *Config) expandSecrets() error {
	var err error
	if c.Replication.Password, err = expand("replication.password", c.Replication.Password); err != nil {
		return err
	}
	if c.Admin.Password, err = expand("admin.password", c.Admin.Password); err != nil {
		return err
	}
	return nil
}

// Validate checks field tags first, then cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Nodes))
	addrs := make([]string, 0, len(c.Nodes))
	remoteNodes := 0
	for _, n := range c.Nodes {
		names = append(names, strings.ToLower(n.Name))
		addrs = append(addrs, n.Address)
		if !n.Local {
			remoteNodes++
		}
	}

	cv := validation.NewConfigValidator("config").
		Unique("nodes.name", names).
		Unique("nodes.address", addrs).
		Contains("primary", strings.ToLower(c.Primary), names).
		Custom("floating_address", func() error {
			for _, a := range addrs {
				if a == c.FloatingAddress {
					return fmt.Errorf("%s is also a node address", a)
				}
			}
			return nil
		}).
		Custom("resources", func() error {
			if c.Resources.FloatingIP == c.Resources.Database {
				return fmt.Errorf("floating_ip and database resources share the id %q", c.Resources.Database)
			}
			return nil
		}).
		Custom("access.extra_rules", func() error {
			_, err := c.ExtraRules()
			return err
		}).
		When(remoteNodes > 0, func(cv *validation.ConfigValidator) {
			cv.Required("ssh.key_file", c.SSH.KeyFile)
			cv.Custom("ssh.known_hosts", func() error {
				if c.SSH.KnownHosts == "" && !c.SSH.InsecureIgnoreHostKey {
					return errors.New("required unless insecure_ignore_host_key is set")
				}
				return nil
			})
		}).
		When(len(c.Nodes) > 1, func(cv *validation.ConfigValidator) {
			cv.Custom("postgres.runtime_config", func() error {
				if _, ok := c.Postgres.RuntimeConfig["listen_addresses"]; !ok {
					return errors.New("listen_addresses must be set for replicas to connect")
				}
				return nil
			})
		}).
		MinDuration("ssh.timeout", c.SSH.Timeout, time.Second).
		MaxDuration("verify.delay", c.Verify.Delay, MaxVerifyDelay)

	return cv.Validate()
}

// ExtraRules parses access.extra_rules.
func (c *Config) ExtraRules() ([]pgconf.Rule, error) {
	rules := make([]pgconf.Rule, 0, len(c.Access.ExtraRules))
	for _, line := range c.Access.ExtraRules {
		r, ok := pgconf.ParseRule(line)
		if !ok {
			return nil, fmt.Errorf("invalid rule %q", line)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Node returns the node named name, case-insensitively.
func (c *Config) Node(name string) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// TopologyNodes lists the nodes without roles; topology.Resolve assigns them.
func (c *Config) TopologyNodes() []topology.Node {
	out := make([]topology.Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		out = append(out, topology.Node{Name: n.Name, Address: n.Address})
	}
	return out
}

// Settings converts the config into convergence settings.
func (c *Config) Settings() converge.Settings {
	extra, _ := c.ExtraRules()
	return converge.Settings{
		ClusterName:     c.ClusterName,
		FloatingAddress: c.FloatingAddress,
		Port:            c.Postgres.Port,
		Packages:        c.Postgres.Packages,
		RuntimeConfig:   c.Postgres.RuntimeConfig,
		Access: pgconf.AccessPolicy{
			ReplicationUser: c.Replication.User,
			Method:          c.Replication.AuthMethod,
			Extra:           extra,
		},
		ReplicationUser:     c.Replication.User,
		ReplicationPassword: c.Replication.Password,
		DBResource:          c.Resources.Database,
		Parallelism:         c.Parallelism,
		VerifyAttempts:      c.Verify.Attempts,
		VerifyDelay:         c.Verify.Delay,
	}
}

// EngineConfig describes the database engine on node.
func (c *Config) EngineConfig(node topology.Node) pgctl.EngineConfig {
	return pgctl.EngineConfig{
		DataDir:       c.Postgres.DataDir,
		ConfigDir:     c.Postgres.ConfigDir,
		BinDir:        c.Postgres.BinDir,
		OSUser:        c.Postgres.OSUser,
		Address:       node.Address,
		Port:          c.Postgres.Port,
		AdminUser:     c.Admin.User,
		AdminPassword: c.Admin.Password,
		AdminDatabase: c.Admin.Database,
		SSLMode:       c.Admin.SSLMode,
	}
}

// SSHConfig describes how to reach node.
func (c *Config) SSHConfig(node NodeConfig) remote.SSHConfig {
	return remote.SSHConfig{
		User:                  c.SSH.User,
		Port:                  node.SSHPort,
		KeyFile:               c.SSH.KeyFile,
		KnownHosts:            c.SSH.KnownHosts,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
		Timeout:               c.SSH.Timeout,
		Sudo:                  c.SSH.Sudo,
	}
}

// BindSpec describes the resources bind creates.
func (c *Config) BindSpec() pacemaker.BindSpec {
	nodes := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, n.Name)
	}
	return pacemaker.BindSpec{
		IPResource:      c.Resources.FloatingIP,
		FloatingIP:      c.FloatingAddress,
		Netmask:         c.Resources.Netmask,
		DBResource:      c.Resources.Database,
		DataDir:         c.Postgres.DataDir,
		BinDir:          c.Postgres.BinDir,
		Port:            c.Postgres.Port,
		ReplicationUser: c.Replication.User,
		Nodes:           nodes,
	}
}
