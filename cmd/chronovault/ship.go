// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/config"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/supervisor"
)

var shipCmd = &cobra.Command{
	Use:   "ship",
	Short: "Run or signal the log shipping daemon",
}

var shipStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the shipping daemon in the foreground",
	Long: `Start runs the supervised shipping stack: the segment shipper polls
the archive directory and uploads finished segments, the retention
sweeper prunes both ends past the window, and the optional streamer
keeps an external receiver command alive. The daemon runs until
SIGINT or SIGTERM, then shuts every service down gracefully.

A pidfile records the daemon's pid so "log ship stop" can signal it.
Starting while another daemon holds the pidfile fails.`,
	Example: `  chronovault log ship start
  chronovault log ship start --metrics-listen :9090
  chronovault log ship start --pid-file /run/chronovault/ship.pid`,
	Args: cobra.NoArgs,
	RunE: runShipStart,
}

var shipStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running shipping daemon to shut down",
	Long: `Stop reads the daemon's pid from the pidfile, sends SIGTERM, and
waits for the process to exit. A stale pidfile left by a crashed
daemon is removed without error.`,
	Example: `  chronovault log ship stop
  chronovault log ship stop --timeout 1m`,
	Args: cobra.NoArgs,
	RunE: runShipStop,
}

var (
	shipPidFile       string
	shipMetricsListen string
	shipStopTimeout   time.Duration
)

func init() {
	shipStartCmd.Flags().StringVar(&shipPidFile, "pid-file", "",
		"pidfile path (default <data_dir>/ship.pid)")
	shipStartCmd.Flags().StringVar(&shipMetricsListen, "metrics-listen", "",
		"expose Prometheus metrics on this address, overriding the config")
	shipStopCmd.Flags().StringVar(&shipPidFile, "pid-file", "",
		"pidfile path (default <data_dir>/ship.pid)")
	shipStopCmd.Flags().DurationVar(&shipStopTimeout, "timeout", 30*time.Second,
		"how long to wait for the daemon to exit")

	shipCmd.AddCommand(shipStartCmd)
	shipCmd.AddCommand(shipStopCmd)
	logCmd.AddCommand(shipCmd)
}

func runShipStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if shipMetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = shipMetricsListen
	}

	daemon, err := supervisor.NewDaemon(cfg)
	if err != nil {
		if errors.Is(err, supervisor.ErrShippingNotConfigured) {
			return fault.Wrap(fault.InvalidArgument, "cli.shipStart", err)
		}
		return err
	}

	pidPath := resolvePidFile()
	if err := writePidFile(pidPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidPath) }()

	watchLogLevel()

	fmt.Printf("Ship daemon starting (pid %d, pidfile %s)\n", os.Getpid(), pidPath)
	if err := daemon.Run(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Ship daemon stopped")
	return nil
}

func runShipStop(cmd *cobra.Command, args []string) error {
	pidPath := resolvePidFile()
	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}

	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		fmt.Printf("✓ Removed stale pidfile for pid %d\n", pid)
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fault.FromOS("cli.shipStop", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fault.FromOS("cli.shipStop", err)
	}

	fmt.Printf("Stopping ship daemon (pid %d)...\n", pid)
	deadline := time.Now().Add(shipStopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			fmt.Println("✓ Ship daemon stopped")
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fault.Errorf(fault.Timeout, "cli.shipStop",
		"ship daemon (pid %d) did not exit within %s", pid, shipStopTimeout)
}

func resolvePidFile() string {
	if shipPidFile != "" {
		return shipPidFile
	}
	return filepath.Join(cfg.DataDir, "ship.pid")
}

// watchLogLevel applies logging.level changes from the config file
// while the daemon runs. Everything else still needs a restart.
func watchLogLevel() {
	path := cfgFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		reloaded, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Config reload failed; log level unchanged")
			return
		}
		logging.SetLevelString(reloaded.Logging.Level)
		logging.Info().Str("level", reloaded.Logging.Level).Msg("Log level applied from config change")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}

// writePidFile claims the pidfile. A live pid in an existing file
// means another daemon owns this data directory.
func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fault.FromOS("cli.writePidFile", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		if pid, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil && processAlive(pid) {
			return fault.Errorf(fault.AlreadyInProgress, "cli.writePidFile",
				"ship daemon already running with pid %d", pid)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fault.FromOS("cli.writePidFile", err)
	}
	return nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fault.Errorf(fault.NotFound, "cli.readPidFile",
				"no pidfile at %s; is the ship daemon running?", path)
		}
		return 0, fault.FromOS("cli.readPidFile", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fault.Errorf(fault.Internal, "cli.readPidFile", "pidfile %s is malformed", path)
	}
	return pid, nil
}

// processAlive probes a pid with signal 0, which tests existence
// without delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
