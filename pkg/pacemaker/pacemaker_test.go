package pacemaker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-pgha/pkg/remote/fake"
)

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"0.10.8\n", Version{0, 10}, false},
		{"0.9.169", Version{0, 9}, false},
		{"0.11.5+dirty", Version{0, 11}, false},
		{"0.11", Version{0, 11}, false},
		{"garbage", Version{}, true},
		{"x.1", Version{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrBadVersion, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.True(t, Version{0, 10}.Supported())
	assert.False(t, Version{1, 0}.Supported())
	assert.True(t, Version{0, 9}.Less(Version{0, 10}))
	assert.Equal(t, "0.10", Version{0, 10}.String())
}

func TestCIBQueries(t *testing.T) {
	cib, err := ParseCIB([]byte(readTestdata(t, "cib_bound.xml")))
	require.NoError(t, err)

	assert.True(t, cib.HasResource("pgha-vip"))
	assert.True(t, cib.HasResource("pgha-db"))
	assert.True(t, cib.HasResource("pgha-db-clone"))
	assert.False(t, cib.HasResource("other"))

	// the constraint names the clone, the probe asks about the primitive
	assert.True(t, cib.HasColocation("pgha-db"))
	assert.True(t, cib.HasColocation("pgha-db-clone"))
	assert.False(t, cib.HasColocation("other"))
	assert.True(t, cib.HasColocationBetween("pgha-db-clone", "pgha-vip"))
	assert.True(t, cib.HasOrder("pgha-db-clone", "pgha-vip"))
	assert.False(t, cib.HasOrder("pgha-vip", "pgha-db-clone"))

	empty, err := ParseCIB([]byte(readTestdata(t, "cib_empty.xml")))
	require.NoError(t, err)
	assert.False(t, empty.HasResource("pgha-db"))
	assert.False(t, empty.HasColocation("pgha-db"))

	_, err = ParseCIB([]byte("<cib"))
	assert.Error(t, err)
}

func TestConstraintExists(t *testing.T) {
	h := fake.New(t, "db1")
	h.ExpectCommands(
		fake.Cmd(readTestdata(t, "cib_bound.xml"), "pcs", "cluster", "cib"),
		fake.Cmd(readTestdata(t, "cib_empty.xml"), "pcs", "cluster", "cib"),
		fake.Fail(1, "Error: unable to get cib", "pcs", "cluster", "cib"),
	)
	b := NewBinder(h)
	ctx := context.Background()

	ok, err := b.ConstraintExists(ctx, "pgha-db")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.ConstraintExists(ctx, "pgha-db")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.ConstraintExists(ctx, "pgha-db")
	assert.Error(t, err)
}

func TestParseCorosyncNodes(t *testing.T) {
	nodes := ParseCorosyncNodes([]byte(readTestdata(t, "corosync.conf")))
	assert.Equal(t, []string{"db1", "db2.example.com"}, nodes)
	assert.Empty(t, ParseCorosyncNodes([]byte("totem {\n}\n")))
}

func TestDetectCluster(t *testing.T) {
	ctx := context.Background()

	h := fake.New(t, "db1")
	info, err := DetectCluster(ctx, h)
	require.NoError(t, err)
	assert.False(t, info.Configured())

	h.SetFile(CorosyncConfPath, readTestdata(t, "corosync.conf"))
	h.SetFile(CIBPath, readTestdata(t, "cib_empty.xml"))
	info, err = DetectCluster(ctx, h)
	require.NoError(t, err)
	assert.True(t, info.Configured())
	assert.True(t, info.CIBExists)
	assert.True(t, info.CorosyncConfExists)
	assert.False(t, info.ClusterConfExists)
	assert.Len(t, info.Nodes, 2)
}

func TestRunningOn(t *testing.T) {
	out := "resource pgha-db-clone is running on: db1 Master\nresource pgha-db-clone is running on: db2\n"
	assert.True(t, runningOn(out, "db1"))
	assert.True(t, runningOn(out, "DB2"))
	assert.False(t, runningOn(out, "db3"))
	assert.False(t, runningOn("resource pgha-db is NOT running\n", "db1"))
}

func TestWaitStarted(t *testing.T) {
	h := fake.New(t, "db2")
	h.ExpectCommands(
		fake.Cmd("resource pgha-db is NOT running\n", "crm_resource", "--resource", "pgha-db", "--locate"),
		fake.Cmd("resource pgha-db is running on: db2\n", "crm_resource", "--resource", "pgha-db", "--locate"),
	)
	b := NewBinder(h, WithWait(3, time.Millisecond))

	require.NoError(t, b.WaitStarted(context.Background(), "pgha-db", "db2"))
}

func TestWaitStartedGivesUp(t *testing.T) {
	h := fake.New(t, "db2")
	for range 2 {
		h.ExpectCommands(fake.Cmd("resource pgha-db is NOT running\n", "crm_resource", "--resource", "pgha-db", "--locate"))
	}
	b := NewBinder(h, WithWait(2, time.Millisecond))

	err := b.WaitStarted(context.Background(), "pgha-db", "db2")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRestartIsNodeScoped(t *testing.T) {
	h := fake.New(t, "db2")
	h.ExpectCommands(
		fake.Cmd("", "pcs", "resource", "restart", "pgha-db", "db2"),
		fake.Fail(1, "Error: resource 'pgha-db' is not running on node db3", "pcs", "resource", "restart", "pgha-db", "db3"),
	)
	b := NewBinder(h)

	require.NoError(t, b.Restart(context.Background(), "pgha-db", "db2"))
	err := b.Restart(context.Background(), "pgha-db", "db3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource restart pgha-db on db3")
}

func TestCommandArgsByVersion(t *testing.T) {
	spec := ResourceSpec{ID: "db", Agent: AgentPgsql, Options: map[string]string{"b": "2", "a": "1"}, Promotable: true}
	assert.Equal(t, []string{"resource", "create", "db", AgentPgsql, "a=1", "b=2", "--master"}, CreateResourceArgs(spec, Version{0, 9}))
	assert.Equal(t, []string{"resource", "create", "db", AgentPgsql, "a=1", "b=2", "promotable"}, CreateResourceArgs(spec, Version{0, 10}))

	c := Colocation{Resource: "vip", With: "db-clone", WithPromoted: true}
	assert.Equal(t, []string{"constraint", "colocation", "add", "vip", "with", "master", "db-clone", "INFINITY"}, ColocationArgs(c, Version{0, 10}))
	assert.Equal(t, []string{"constraint", "colocation", "add", "vip", "with", "Promoted", "db-clone", "INFINITY"}, ColocationArgs(c, Version{0, 11}))

	o := Order{First: "db-clone", FirstPromote: true, Then: "vip"}
	assert.Equal(t, []string{"constraint", "order", "promote", "db-clone", "then", "start", "vip"}, OrderArgs(o))
}

func testBindSpec() BindSpec {
	return BindSpec{
		IPResource:      "pgha-vip",
		FloatingIP:      "10.0.0.100",
		Netmask:         24,
		DBResource:      "pgha-db",
		DataDir:         "/var/lib/pgsql/16/data",
		BinDir:          "/usr/pgsql-16/bin",
		Port:            5432,
		ReplicationUser: "replicator",
		Nodes:           []string{"db1", "db2", "db3"},
	}
}

func TestBindCreatesMissingPieces(t *testing.T) {
	h := fake.New(t, "db1")
	h.SetFile(CorosyncConfPath, readTestdata(t, "corosync.conf"))
	h.ExpectCommands(
		fake.Cmd("0.11.5\n", "pcs", "--version"),
		fake.Cmd(readTestdata(t, "cib_empty.xml"), "pcs", "cluster", "cib"),
		fake.Cmd("", "pcs", "resource", "create", "pgha-db", AgentPgsql,
			"master_ip=10.0.0.100",
			"node_list=db1 db2 db3",
			"pgctl=/usr/pgsql-16/bin/pg_ctl",
			"pgdata=/var/lib/pgsql/16/data",
			"pgport=5432",
			"psql=/usr/pgsql-16/bin/psql",
			"rep_mode=async",
			"repuser=replicator",
			"restart_on_promote=true",
			"promotable"),
		fake.Cmd("", "pcs", "resource", "create", "pgha-vip", AgentIPaddr2, "cidr_netmask=24", "ip=10.0.0.100"),
		fake.Cmd("", "pcs", "constraint", "colocation", "add", "pgha-vip", "with", "Promoted", "pgha-db-clone", "INFINITY"),
		fake.Cmd("", "pcs", "constraint", "order", "promote", "pgha-db-clone", "then", "start", "pgha-vip"),
	)

	res, err := NewBinder(h).Bind(context.Background(), testBindSpec())
	require.NoError(t, err)
	assert.Equal(t, Version{0, 11}, res.Version)
	assert.Len(t, res.Created, 4)
}

func TestBindIsIdempotent(t *testing.T) {
	h := fake.New(t, "db1")
	h.SetFile(CIBPath, readTestdata(t, "cib_bound.xml"))
	h.ExpectCommands(
		fake.Cmd("0.10.8\n", "pcs", "--version"),
		fake.Cmd(readTestdata(t, "cib_bound.xml"), "pcs", "cluster", "cib"),
	)

	res, err := NewBinder(h).Bind(context.Background(), testBindSpec())
	require.NoError(t, err)
	assert.Empty(t, res.Created)
}

func TestBindRequiresCluster(t *testing.T) {
	h := fake.New(t, "db1")

	_, err := NewBinder(h).Bind(context.Background(), testBindSpec())
	assert.ErrorIs(t, err, ErrNoCluster)
}

func TestBindRejectsUnsupportedVersion(t *testing.T) {
	h := fake.New(t, "db1")
	h.SetFile(CIBPath, "<cib/>")
	h.ExpectCommands(fake.Cmd("0.8.2\n", "pcs", "--version"))

	_, err := NewBinder(h).Bind(context.Background(), testBindSpec())
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
