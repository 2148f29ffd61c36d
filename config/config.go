// Package config reads the environment-knob surface spec.md §6 documents as
// optional CLI/runtime tuning: worker sleep bounds, the parallel-dispatch
// threshold, and a UI scale factor. Follows a no-config-library idiom
// (explicit structs populated from call sites, never a viper/koanf-style
// config tree) — a handful of os.Getenv reads with defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the CLI surface exposes via environment
// variables (spec.md §6).
type Config struct {
	WorkerMinSleepNS  int64
	WorkerMaxSleepNS  int64
	ParallelThreshold int
	UIScale           float64
}

// Defaults mirror the adaptive-sleep table's implied starting point
// (spec.md §4.F) and the graph's DefaultParallelThreshold.
func Defaults() Config {
	return Config{
		WorkerMinSleepNS:  int64(20 * time.Microsecond),
		WorkerMaxSleepNS:  int64(2 * time.Millisecond),
		ParallelThreshold: 3,
		UIScale:           1.0,
	}
}

// FromEnv reads WORKER_MIN_SLEEP_NS, WORKER_MAX_SLEEP_NS,
// PARALLEL_THRESHOLD and UI_SCALE, falling back to Defaults() for any that
// are unset or fail to parse.
func FromEnv() Config {
	c := Defaults()
	if v, ok := getInt64("WORKER_MIN_SLEEP_NS"); ok {
		c.WorkerMinSleepNS = v
	}
	if v, ok := getInt64("WORKER_MAX_SLEEP_NS"); ok {
		c.WorkerMaxSleepNS = v
	}
	if v, ok := getInt("PARALLEL_THRESHOLD"); ok {
		c.ParallelThreshold = v
	}
	if v, ok := getFloat("UI_SCALE"); ok {
		c.UIScale = v
	}
	return c
}

func getInt64(name string) (int64, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func getInt(name string) (int, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func getFloat(name string) (float64, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
