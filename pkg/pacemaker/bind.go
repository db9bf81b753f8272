package pacemaker

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	AgentIPaddr2 = "ocf:heartbeat:IPaddr2"
	AgentPgsql   = "ocf:heartbeat:pgsql"
)

// BindSpec describes the resources that put PostgreSQL under cluster control.
type BindSpec struct {
	IPResource string
	FloatingIP string
	Netmask    int

	DBResource      string
	DataDir         string
	BinDir          string
	Port            int
	ReplicationUser string
	Nodes           []string
}

// WrapperID is the id pcs gives the promotable wrapper of the database
// resource.
func (s BindSpec) WrapperID(v Version) string {
	if v.Less(Version{Major: 0, Minor: 10}) {
		return s.DBResource + "-master"
	}
	return s.DBResource + "-clone"
}

func (s BindSpec) dbResource() ResourceSpec {
	return ResourceSpec{
		ID:    s.DBResource,
		Agent: AgentPgsql,
		Options: map[string]string{
			"pgctl":              filepath.Join(s.BinDir, "pg_ctl"),
			"psql":               filepath.Join(s.BinDir, "psql"),
			"pgdata":             s.DataDir,
			"pgport":             strconv.Itoa(s.Port),
			"rep_mode":           "async",
			"node_list":          strings.Join(s.Nodes, " "),
			"master_ip":          s.FloatingIP,
			"repuser":            s.ReplicationUser,
			"restart_on_promote": "true",
		},
		Promotable: true,
	}
}

func (s BindSpec) ipResource() ResourceSpec {
	return ResourceSpec{
		ID:    s.IPResource,
		Agent: AgentIPaddr2,
		Options: map[string]string{
			"ip":           s.FloatingIP,
			"cidr_netmask": strconv.Itoa(s.Netmask),
		},
	}
}

// BindResult lists what Bind had to create.
type BindResult struct {
	Version Version  `json:"pcs_version"`
	Created []string `json:"created"`
}

// Bind creates whichever of the database resource, floating IP and their
// constraints are missing. Running it against a bound cluster is a no-op.
func (b *Binder) Bind(ctx context.Context, spec BindSpec) (BindResult, error) {
	var res BindResult

	info, err := DetectCluster(ctx, b.host)
	if err != nil {
		return res, fmt.Errorf("detecting cluster on %s: %w", b.host.Name(), err)
	}
	if !info.Configured() {
		return res, fmt.Errorf("%w: %s", ErrNoCluster, b.host.Name())
	}

	v, err := b.Version(ctx)
	if err != nil {
		return res, err
	}
	if !v.Supported() {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	res.Version = v

	cib, err := b.CIB(ctx)
	if err != nil {
		return res, err
	}
	wrapper := spec.WrapperID(v)

	if !cib.HasResource(spec.DBResource) {
		if err := b.CreateResource(ctx, spec.dbResource(), v); err != nil {
			return res, err
		}
		res.Created = append(res.Created, "resource "+spec.DBResource)
	}
	if !cib.HasResource(spec.IPResource) {
		if err := b.CreateResource(ctx, spec.ipResource(), v); err != nil {
			return res, err
		}
		res.Created = append(res.Created, "resource "+spec.IPResource)
	}
	if !cib.HasColocationBetween(spec.IPResource, wrapper) {
		c := Colocation{Resource: spec.IPResource, With: wrapper, WithPromoted: true}
		if err := b.CreateColocation(ctx, c, v); err != nil {
			return res, err
		}
		res.Created = append(res.Created, fmt.Sprintf("colocation %s with %s", spec.IPResource, wrapper))
	}
	if !cib.HasOrder(wrapper, spec.IPResource) {
		o := Order{First: wrapper, FirstPromote: true, Then: spec.IPResource}
		if err := b.CreateOrder(ctx, o); err != nil {
			return res, err
		}
		res.Created = append(res.Created, fmt.Sprintf("order %s then %s", wrapper, spec.IPResource))
	}
	return res, nil
}
