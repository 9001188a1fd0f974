package lock

import (
	"errors"
	"os"
	"testing"

	ps "github.com/mitchellh/go-ps"
)

type mockProcess struct {
	pid        int
	executable string
}

func (m *mockProcess) Pid() int {
	return m.pid
}

func (m *mockProcess) PPid() int {
	return 0
}

func (m *mockProcess) Executable() string {
	return m.executable
}

func withProcesses(t *testing.T, running map[int]string) {
	t.Helper()
	old := findProcessFunc
	t.Cleanup(func() { findProcessFunc = old })
	findProcessFunc = func(pid int) (ps.Process, error) {
		exe, ok := running[pid]
		if !ok {
			return nil, nil
		}
		return &mockProcess{pid: pid, executable: exe}, nil
	}
}

func withPID(t *testing.T, pid int) {
	t.Helper()
	old := getpidFunc
	t.Cleanup(func() { getpidFunc = old })
	getpidFunc = func() int { return pid }
}

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	holder, err := ReadHolder(Path(dir))
	if err != nil {
		t.Fatalf("ReadHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", holder.PID, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Error("lockfile still exists after Release")
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	withPID(t, 1001)
	first, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	holder, err := ReadHolder(Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	withProcesses(t, map[int]string{1001: holder.Executable})
	withPID(t, 2002)
	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("Acquire error = %v, want ErrLocked", err)
	}

	withPID(t, 1001)
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	tests := []struct {
		name    string
		content string
		running map[int]string
	}{
		{name: "dead process", content: "4242|daypulse|2025-02-16T03:00:00Z", running: map[int]string{}},
		{name: "pid reused by another program", content: "4242|daypulse|2025-02-16T03:00:00Z", running: map[int]string{4242: "bash"}},
		{name: "malformed", content: "garbage", running: map[int]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(Path(dir), []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			withProcesses(t, tt.running)

			l, err := Acquire(dir)
			if err != nil {
				t.Fatalf("Acquire should take over a stale lock: %v", err)
			}
			defer l.Release()

			holder, err := ReadHolder(Path(dir))
			if err != nil {
				t.Fatal(err)
			}
			if holder.PID != os.Getpid() {
				t.Errorf("holder pid = %d, want %d", holder.PID, os.Getpid())
			}
		})
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(dir), []byte("999999|daypulse|2025-02-16T03:00:00Z"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := l.Release(); err == nil {
		t.Error("Release should refuse to remove another process's lock")
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Error("foreign lockfile was removed")
	}
}

func TestHeld(t *testing.T) {
	dir := t.TempDir()

	if _, held, err := Held(dir); err != nil || held {
		t.Fatalf("Held on empty dir = %v, %v", held, err)
	}

	withPID(t, 1001)
	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	holder, err := ReadHolder(Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	withProcesses(t, map[int]string{1001: holder.Executable})
	if h, held, err := Held(dir); err != nil || !held || h.PID != 1001 {
		t.Errorf("Held = %+v, %v, %v", h, held, err)
	}

	withProcesses(t, map[int]string{})
	if _, held, err := Held(dir); err != nil || held {
		t.Errorf("dead holder reported as held: %v, %v", held, err)
	}
}
