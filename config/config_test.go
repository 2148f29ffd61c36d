package config

import (
	"os"
	"testing"
)

func TestFromEnvFallsBackToDefaultsWhenUnset(t *testing.T) {
	t.Setenv("WORKER_MIN_SLEEP_NS", "")
	os_unsetAll(t)
	c := FromEnv()
	d := Defaults()
	if c != d {
		t.Fatalf("FromEnv() = %+v, want defaults %+v", c, d)
	}
}

func TestFromEnvParsesOverrides(t *testing.T) {
	t.Setenv("WORKER_MIN_SLEEP_NS", "500")
	t.Setenv("WORKER_MAX_SLEEP_NS", "5000000")
	t.Setenv("PARALLEL_THRESHOLD", "7")
	t.Setenv("UI_SCALE", "1.5")

	c := FromEnv()
	if c.WorkerMinSleepNS != 500 || c.WorkerMaxSleepNS != 5000000 || c.ParallelThreshold != 7 || c.UIScale != 1.5 {
		t.Fatalf("FromEnv() = %+v", c)
	}
}

func TestFromEnvIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("PARALLEL_THRESHOLD", "not-a-number")
	c := FromEnv()
	if c.ParallelThreshold != Defaults().ParallelThreshold {
		t.Fatalf("ParallelThreshold = %d, want default on parse failure", c.ParallelThreshold)
	}
}

func os_unsetAll(t *testing.T) {
	t.Helper()
	for _, name := range []string{"WORKER_MIN_SLEEP_NS", "WORKER_MAX_SLEEP_NS", "PARALLEL_THRESHOLD", "UI_SCALE"} {
		t.Setenv(name, "") // registers restoration of the original value
		os.Unsetenv(name)
	}
}
