// Command fluxd runs the flux-daw core as a standalone process: it opens
// the default audio device, drives the transport's playhead, and exposes
// an interactive console for launching scenes and arming clips. Follows a
// device-setup/signal-path-report/bufio.Scanner-command-loop shape,
// generalized from per-channel audio-engine wiring to the graph/transport
// core (spec.md §6).
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxdaw/fluxdaw"
	"github.com/fluxdaw/fluxdaw/config"
)

const tickInterval = 10 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := config.FromEnv()
	fmt.Println("flux-daw core")
	fmt.Println("=============")

	host, err := fluxdaw.NewHost(fluxdaw.HostConfig{
		SampleRate:  48000,
		MaxFrames:   256,
		WorkerCount: 4,
		Config:      cfg,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to construct host")
		return 1
	}

	if err := host.Start(48000); err != nil {
		log.Error().Err(err).Msg("failed to start audio device")
		return 1
	}
	fmt.Println("audio device running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go tickLoop(host, ticker, done)

	cmdDone := make(chan struct{})
	go commandLoop(host, cmdDone)

	select {
	case <-sig:
		fmt.Println("\nshutting down...")
	case <-cmdDone:
	}

	close(done)
	if err := host.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return 1
	}
	fmt.Println("shutdown complete")
	return 0
}

func tickLoop(host *fluxdaw.Host, ticker *time.Ticker, done chan struct{}) {
	last := time.Now()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			host.Tick(now.Sub(last))
			last = now
		}
	}
}

func commandLoop(host *fluxdaw.Host, done chan struct{}) {
	defer close(done)
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  launch <scene>         - launch a scene across all tracks")
	fmt.Println("  stop                   - stop all playback")
	fmt.Println("  record <track> <scene> - arm a track/scene for recording")
	fmt.Println("  status                 - show transport + DSP load")
	fmt.Println("  quit                   - exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("fluxd> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "quit", "exit", "q":
			return

		case "launch":
			scene, err := parseIndex(parts, 1)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := host.Dispatcher.LaunchScene(scene); err != nil {
				fmt.Printf("launch failed: %v\n", err)
			}

		case "stop":
			if err := host.Dispatcher.StopAll(); err != nil {
				fmt.Printf("stop failed: %v\n", err)
			}

		case "record":
			if len(parts) < 3 {
				fmt.Println("usage: record <track> <scene>")
				continue
			}
			track, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid track index")
				continue
			}
			scene, err := strconv.Atoi(parts[2])
			if err != nil {
				fmt.Println("invalid scene index")
				continue
			}
			if err := host.Dispatcher.RecordArm(track, scene, 0); err != nil {
				fmt.Printf("record-arm failed: %v\n", err)
			}

		case "status":
			stats := host.Engine.LoadStats()
			fmt.Printf("playing=%v bpm=%.1f playhead=%.2f dsp=%.1f%% underruns=%d\n",
				host.Transport.Playing, host.Transport.BPM, host.Transport.PlayheadBeat,
				stats.UsagePercent, stats.UnderrunCount)

		default:
			fmt.Printf("unknown command: %s\n", parts[0])
		}
	}
}

func parseIndex(parts []string, i int) (int, error) {
	if len(parts) <= i {
		return 0, fmt.Errorf("missing argument")
	}
	v, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", parts[i])
	}
	return v, nil
}
