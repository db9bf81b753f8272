package cli

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-pgha/pkg/config"
	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/pacemaker"
	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
	"github.com/dd0wney/cluso-pgha/pkg/pkgmgr"
	"github.com/dd0wney/cluso-pgha/pkg/remote"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// Dial opens the host of the configured node name.
func Dial(ctx context.Context, cfg *config.Config, name string) (remote.Host, error) {
	n, ok := cfg.Node(name)
	if !ok {
		return nil, fmt.Errorf("node %q is not in the config", name)
	}
	if n.Local {
		return remote.NewLocalHost(n.Name), nil
	}
	host, err := remote.DialSSH(ctx, n.Name, n.Address, cfg.SSHConfig(n))
	if err != nil {
		return nil, err
	}
	return host, nil
}

// Connector returns the ConnectFunc that reaches nodes as cfg describes.
func Connector(cfg *config.Config, logger logging.Logger) converge.ConnectFunc {
	return func(ctx context.Context, node topology.Node) (*converge.Handle, error) {
		host, err := Dial(ctx, cfg, node.Name)
		if err != nil {
			return nil, err
		}
		logger.Debug("connected", logging.Node(node.Name), logging.String("address", node.Address))

		engine := pgctl.NewEngine(host, cfg.EngineConfig(node))
		return &converge.Handle{
			Files:     host,
			Service:   pgctl.NewService(host, cfg.Postgres.Service),
			Engine:    engine,
			Resources: pacemaker.NewBinder(host),
			Packages:  pkgmgr.New(host),
			Close: func() error {
				engine.Close()
				return host.Close()
			},
		}, nil
	}
}
