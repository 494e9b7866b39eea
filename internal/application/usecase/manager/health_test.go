package manager

import (
	"testing"
	"time"
)

func newTestHealth(st *State, now int64) *HealthChecker {
	h := NewHealthChecker(st, time.Second, 45*time.Second)
	h.now = func() int64 { return now }
	return h
}

func TestHealthCheckFlagsStaleConnection(t *testing.T) {
	st := NewState(10)
	st.ResetOnConnect(1000)

	h := newTestHealth(st, 1000+46)
	h.check()

	if !st.ForceReconnectRequested() {
		t.Fatal("heartbeat older than the liveness timeout must request a reconnect")
	}
}

func TestHealthCheckFreshHeartbeatIsFine(t *testing.T) {
	st := NewState(10)
	st.ResetOnConnect(1000)

	h := newTestHealth(st, 1000+44)
	h.check()

	if st.ForceReconnectRequested() {
		t.Fatal("fresh heartbeat must not request a reconnect")
	}
}

func TestHealthCheckIgnoresDisconnectedStream(t *testing.T) {
	st := NewState(10)
	st.Heartbeat(1000)
	st.SetConnState(Disconnected)

	h := newTestHealth(st, 1000+3600)
	h.check()

	if st.ForceReconnectRequested() {
		t.Fatal("liveness applies only while nominally connected")
	}
}

func TestHealthCheckNoHeartbeatYet(t *testing.T) {
	st := NewState(10)
	st.SetConnState(Connected)

	h := newTestHealth(st, 99999)
	h.check()

	if st.ForceReconnectRequested() {
		t.Fatal("no heartbeat recorded yet must not count as stale")
	}
}
