package pacemaker

var Command = "pcs"

var CrmResourceCommand = "crm_resource"

var (
	CIBPath          = "/var/lib/pacemaker/cib/cib.xml"
	CorosyncConfPath = "/etc/corosync/corosync.conf"
	// pre-corosync-2 clusters
	ClusterConfPath = "/etc/cluster/cluster.conf"
)

var VersionArgs = []string{"--version"}

var CIBArgs = []string{"cluster", "cib"}

var CleanupArgs = func(resource string) []string {
	return []string{"resource", "cleanup", resource}
}

var RestartArgs = func(resource, node string) []string {
	return []string{"resource", "restart", resource, node}
}

var LocateArgs = func(resource string) []string {
	return []string{"--resource", resource, "--locate"}
}

var CreateResourceArgs = func(spec ResourceSpec, v Version) []string {
	args := []string{"resource", "create", spec.ID, spec.Agent}
	args = append(args, spec.sortedOptions()...)
	if spec.Promotable {
		if v.Less(Version{Major: 0, Minor: 10}) {
			args = append(args, "--master")
		} else {
			args = append(args, "promotable")
		}
	}
	return args
}

var ColocationArgs = func(c Colocation, v Version) []string {
	args := []string{"constraint", "colocation", "add", c.Resource, "with"}
	if c.WithPromoted {
		args = append(args, promotedRole(v))
	}
	return append(args, c.With, "INFINITY")
}

var OrderArgs = func(o Order) []string {
	first := "start"
	if o.FirstPromote {
		first = "promote"
	}
	return []string{"constraint", "order", first, o.First, "then", "start", o.Then}
}

// role keyword changed name in pcs 0.11
func promotedRole(v Version) string {
	if v.Less(Version{Major: 0, Minor: 11}) {
		return "master"
	}
	return "Promoted"
}
