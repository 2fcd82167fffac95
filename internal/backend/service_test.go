package backend

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlink_desk/internal/rules"
	"nlink_desk/internal/shared/types"
)

const testConfig = `{
  "Listen": "127.0.0.1:0",
  "Net": "tcp",
  "Servers": [{"Name": "tokyo", "Addr": "localhost:8899"}],
  "Rules": [
    "host-suffix: .example.com, reject",
    "ip-cidr: 10.0.0.0/8, direct",
    "match, forward: tokyo"
  ]
}`

func TestRestartAppliesConfig(t *testing.T) {
	svc := NewService(nil, Options{ProbeListen: true})
	require.NoError(t, svc.Restart(testConfig))

	st := svc.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.Rules)
	assert.Equal(t, 1, st.Servers)
	assert.Equal(t, 1, st.Restarts)

	d, ok := svc.Route(rules.Meta{Host: "api.example.com"})
	require.True(t, ok)
	assert.Equal(t, rules.ActionReject, d.Action.Kind)

	d, _ = svc.Route(rules.Meta{IP: netip.MustParseAddr("10.1.2.3")})
	assert.Equal(t, 1, d.Index)

	d, _ = svc.Route(rules.Meta{Host: "golang.org"})
	assert.Equal(t, rules.Action{Kind: rules.ActionForward, Server: "tokyo"}, d.Action)
}

func TestRestartRejectsBadConfigAndKeepsPrevious(t *testing.T) {
	svc := NewService(nil, Options{})
	require.NoError(t, svc.Restart(testConfig))

	for name, content := range map[string]string{
		"garbage":         "{not json",
		"undeclared":      `{"Net":"tcp","Rules":["match, forward: osaka"]}`,
		"missing catch":   `{"Net":"tcp","Rules":["geoip: CN, direct"]}`,
		"bad rule syntax": `{"Net":"tcp","Rules":["match"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, svc.Restart(content))
		})
	}

	err := svc.Restart(`{"Net":"tcp","Rules":["match, forward: osaka"]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"osaka"`)
	assert.ErrorIs(t, err, rules.ErrUnknownServer)

	assert.Equal(t, 1, svc.Status().Restarts)
	assert.Equal(t, 3, svc.Status().Rules)
}

func TestRestartReportsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	svc := NewService(nil, Options{ProbeListen: true})
	content := `{"Listen":"` + ln.Addr().String() + `","Net":"tcp","Rules":["match-all, direct"]}`
	err = svc.Restart(content)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port in use")
	assert.False(t, svc.Status().Running)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(nil, Options{})
	svc.Stop()
	require.NoError(t, svc.Restart(testConfig))
	svc.Stop()
	svc.Stop()

	assert.False(t, svc.Status().Running)
	_, ok := svc.Route(rules.Meta{Host: "a.example.com"})
	assert.False(t, ok)
}

func TestLogsHeartbeat(t *testing.T) {
	svc := NewService(NewLogSink(10), Options{Heartbeat: 20 * time.Millisecond})

	start := time.Now()
	got := svc.Logs(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLogsReturnsQueuedEntries(t *testing.T) {
	sink := NewLogSink(10)
	svc := NewService(sink, Options{Heartbeat: time.Minute})
	sink.Push(types.LogEntry{Message: "one"})
	sink.Push(types.LogEntry{Message: "two"})

	got := svc.Logs(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)
}

func TestLogsEndsWithContext(t *testing.T) {
	svc := NewService(NewLogSink(10), Options{Heartbeat: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Empty(t, svc.Logs(ctx))
}

func TestSelectFileWithoutDialog(t *testing.T) {
	_, err := NewService(nil, Options{}).SelectFile(context.Background(), "Open")
	assert.ErrorIs(t, err, ErrNoDialog)
}
