package pacemaker

import (
	"context"
	"errors"
	"regexp"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

var (
	corosyncNodeRe  = regexp.MustCompile(`(?s)node\s*\{([^}]+)\}`)
	corosyncRing0Re = regexp.MustCompile(`(?m)ring0_addr\s*:\s*([\w.:-]+)`)
)

// ClusterInfo is what is on disk about a cluster on one host.
type ClusterInfo struct {
	CIBExists          bool `json:"cib_exists"`
	CorosyncConfExists bool `json:"corosync_conf_exists"`
	ClusterConfExists  bool `json:"cluster_conf_exists"`
	// Nodes are the ring0 addresses from corosync.conf
	Nodes []string `json:"nodes,omitempty"`
}

// Configured reports whether any trace of a cluster exists.
func (i ClusterInfo) Configured() bool {
	return i.CIBExists || i.CorosyncConfExists || i.ClusterConfExists
}

// DetectCluster inspects the files pcs leaves behind once a cluster has been
// set up.
func DetectCluster(ctx context.Context, host remote.Host) (ClusterInfo, error) {
	var info ClusterInfo
	var err error

	if info.CIBExists, err = host.Exists(ctx, CIBPath); err != nil {
		return info, err
	}
	if info.ClusterConfExists, err = host.Exists(ctx, ClusterConfPath); err != nil {
		return info, err
	}

	conf, err := host.ReadFile(ctx, CorosyncConfPath)
	switch {
	case errors.Is(err, remote.ErrNotExist):
		return info, nil
	case err != nil:
		return info, err
	}
	info.CorosyncConfExists = true
	info.Nodes = ParseCorosyncNodes(conf)
	return info, nil
}

// ParseCorosyncNodes lists ring0 addresses of the nodelist; nodes without one
// are skipped.
func ParseCorosyncNodes(conf []byte) []string {
	var nodes []string
	for _, m := range corosyncNodeRe.FindAllSubmatch(conf, -1) {
		if r := corosyncRing0Re.FindSubmatch(m[1]); r != nil {
			nodes = append(nodes, string(r[1]))
		}
	}
	return nodes
}
