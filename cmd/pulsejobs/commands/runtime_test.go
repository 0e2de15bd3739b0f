package commands

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/am"
	pulsetest "github.com/teranos/pulsejobs/internal/testing"
	"github.com/teranos/pulsejobs/pulse/dispatch"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	cfg, err := am.LoadFromFile(writeConfig(t, ""))
	require.NoError(t, err)
	cfg.Executor.SimulatedLatencyMS = 0
	cfg.Executor.FailureRate = 0
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := t.TempDir() + "/am.toml"
	require.NoError(t, writeFile(path, body))
	return path
}

func TestNewSubstrate(t *testing.T) {
	database := pulsetest.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	cfg := testConfig(t)
	sub, client, err := newSubstrate(cfg, database, false, log)
	require.NoError(t, err)
	assert.IsType(t, &dispatch.Ticker{}, sub)
	assert.Nil(t, client)

	cfg.Dispatch.Backend = am.BackendTimers
	_, _, err = newSubstrate(cfg, database, false, log)
	assert.Error(t, err, "timers are daemon-only")

	sub, _, err = newSubstrate(cfg, database, true, log)
	require.NoError(t, err)
	assert.IsType(t, &dispatch.Timers{}, sub)

	cfg.Dispatch.Backend = "carrier-pigeon"
	_, _, err = newSubstrate(cfg, database, true, log)
	assert.Error(t, err)
}

func TestNewRuntime_TickerCreatesArmedJob(t *testing.T) {
	database := pulsetest.CreateTestDB(t)
	rt, err := newRuntime(testConfig(t), database, false, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rt.Close()

	at := time.Now().Add(time.Hour).UTC()
	job, err := rt.orch.CreateJob(context.Background(), "alice", schedule.Spec{
		Name: "report", Type: schedule.TypeOneTime, ScheduledAt: at,
	})
	require.NoError(t, err)

	armedAt, ok, err := rt.substrate.(dispatch.Inspector).ArmedAt(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(armedAt))
}

func TestNewRuntime_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Dispatch.Backend = am.BackendRedis
	cfg.Dispatch.Redis.Addr = mr.Addr()

	rt, err := newRuntime(cfg, pulsetest.CreateTestDB(t), false, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.redis)

	job, err := rt.orch.CreateJob(context.Background(), "alice", schedule.Spec{
		Name: "report", Type: schedule.TypeOneTime, ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	members, err := mr.ZMembers(cfg.Dispatch.Redis.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, members)
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), am.DefaultFilePermissions)
}
