// Package service installs soundgrab as a per-user background service:
// a systemd user unit on Linux, a launchd agent on macOS and a Run
// registry entry on Windows.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/batalabs/soundgrab/internal/config"
	"github.com/batalabs/soundgrab/internal/daemon"
)

const (
	launchdLabel = "com.batalabs.soundgrab"
	systemdUnit  = "soundgrab"
	registryKey  = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`
)

// runCommand executes an external tool and returns its combined output.
// Replaced in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// out receives user-facing progress lines.
var out io.Writer = os.Stdout

// Actions lists the accepted service actions.
var Actions = []string{"install", "uninstall", "status", "start", "stop"}

// HandleCommand dispatches service management actions.
func HandleCommand(action string) error {
	switch strings.ToLower(action) {
	case "install":
		return serviceInstall()
	case "uninstall":
		return serviceUninstall()
	case "status":
		return serviceStatus()
	case "start":
		return serviceStart()
	case "stop":
		return serviceStop()
	default:
		return fmt.Errorf("unknown service action: %s (use %s)", action, strings.Join(Actions, "|"))
	}
}

// ---------------------------------------------------------------------------
// Platform paths
// ---------------------------------------------------------------------------

// ServiceExePath returns the path to the current executable.
func ServiceExePath() (string, error) {
	return os.Executable()
}

// LaunchdPlistPath returns the path to the launchd plist file.
func LaunchdPlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
}

// SystemdUnitPath returns the path to the systemd user unit file.
func SystemdUnitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit+".service"), nil
}

// ServiceLogPath returns where the service manager sends stdout and stderr.
// Structured logs go to config.LogPath.
func ServiceLogPath() string {
	dir, err := config.DataDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "soundgrab-service.log")
	}
	return filepath.Join(dir, "service.log")
}

// ---------------------------------------------------------------------------
// Unit files
// ---------------------------------------------------------------------------

func launchdPlist(exe, logPath string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>run</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`, launchdLabel, exe, logPath, logPath)
}

func systemdUnitFile(exe, logPath string) string {
	return fmt.Sprintf(`[Unit]
Description=soundgrab Telegram bot
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s run
Restart=on-failure
RestartSec=5
StandardOutput=append:%s
StandardError=append:%s

[Install]
WantedBy=default.target
`, exe, logPath, logPath)
}

// ---------------------------------------------------------------------------
// Install
// ---------------------------------------------------------------------------

func serviceInstall() error {
	exe, err := ServiceExePath()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(exe)
	case "linux":
		return installSystemd(exe)
	case "windows":
		return installWindows(exe)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func installLaunchd(exe string) error {
	path, err := LaunchdPlistPath()
	if err != nil {
		return err
	}
	if err := writeUnit(path, launchdPlist(exe, ServiceLogPath())); err != nil {
		return err
	}
	if b, err := runCommand("launchctl", "load", "-w", path); err != nil {
		return fmt.Errorf("launchctl load: %s: %w", strings.TrimSpace(string(b)), err)
	}
	fmt.Fprintf(out, "Service installed: %s\n", path)
	return nil
}

func installSystemd(exe string) error {
	path, err := SystemdUnitPath()
	if err != nil {
		return err
	}
	if err := writeUnit(path, systemdUnitFile(exe, ServiceLogPath())); err != nil {
		return err
	}
	if b, err := runCommand("systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %s: %w", strings.TrimSpace(string(b)), err)
	}
	if b, err := runCommand("systemctl", "--user", "enable", systemdUnit); err != nil {
		return fmt.Errorf("enable: %s: %w", strings.TrimSpace(string(b)), err)
	}
	fmt.Fprintf(out, "Service installed: %s\n", path)
	return nil
}

func installWindows(exe string) error {
	value := fmt.Sprintf(`"%s" run`, exe)
	b, err := runCommand("reg", "add", registryKey, "/v", systemdUnit, "/t", "REG_SZ", "/d", value, "/f")
	if err != nil {
		return fmt.Errorf("reg add: %s: %w", strings.TrimSpace(string(b)), err)
	}
	fmt.Fprintln(out, `Service installed (startup registry entry: HKCU\...\Run\soundgrab)`)
	return nil
}

func writeUnit(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Uninstall
// ---------------------------------------------------------------------------

func serviceUninstall() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd()
	case "linux":
		return uninstallSystemd()
	case "windows":
		return uninstallWindows()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func uninstallLaunchd() error {
	path, err := LaunchdPlistPath()
	if err != nil {
		return err
	}
	if _, err := runCommand("launchctl", "unload", "-w", path); err != nil {
		fmt.Fprintf(os.Stderr, "service: launchctl unload: %v\n", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	fmt.Fprintln(out, "Service uninstalled.")
	return nil
}

func uninstallSystemd() error {
	if _, err := runCommand("systemctl", "--user", "stop", systemdUnit); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl stop: %v\n", err)
	}
	if _, err := runCommand("systemctl", "--user", "disable", systemdUnit); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl disable: %v\n", err)
	}

	path, err := SystemdUnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	if _, err := runCommand("systemctl", "--user", "daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl daemon-reload: %v\n", err)
	}
	fmt.Fprintln(out, "Service uninstalled.")
	return nil
}

func uninstallWindows() error {
	b, err := runCommand("reg", "delete", registryKey, "/v", systemdUnit, "/f")
	if err != nil {
		return fmt.Errorf("reg delete: %s: %w", strings.TrimSpace(string(b)), err)
	}
	fmt.Fprintln(out, "Service uninstalled.")
	return nil
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func serviceStatus() error {
	switch runtime.GOOS {
	case "darwin":
		b, err := runCommand("launchctl", "list", launchdLabel)
		if err != nil {
			fmt.Fprintln(out, "Service is not loaded.")
		} else {
			fmt.Fprintln(out, strings.TrimSpace(string(b)))
		}
	case "linux":
		// systemctl status exits non-zero for inactive units; the output is still useful.
		b, _ := runCommand("systemctl", "--user", "status", systemdUnit)
		fmt.Fprintln(out, strings.TrimSpace(string(b)))
	case "windows":
		b, err := runCommand("reg", "query", registryKey, "/v", systemdUnit)
		if err != nil {
			fmt.Fprintln(out, "Service is not installed.")
		} else {
			fmt.Fprintln(out, "Startup entry found:")
			fmt.Fprintln(out, strings.TrimSpace(string(b)))
		}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	fmt.Fprintln(out, BotStatus(context.Background()))
	return nil
}

// BotStatus describes the running bot from its lockfile and, when it serves
// one, its health endpoint.
func BotStatus(ctx context.Context) string {
	lf, err := daemon.ReadLockfile()
	if err != nil || daemon.IsLockfileStale(lf) {
		return "Bot is not running."
	}
	line := fmt.Sprintf("Bot running: PID %d, up since %s", lf.PID, lf.StartedAt.Format(time.RFC3339))
	if lf.Addr == "" {
		return line
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	h, err := daemon.NewClient(lf.Addr).Health(ctx)
	if h == nil {
		return fmt.Sprintf("%s (health endpoint %s unreachable: %v)", line, lf.Addr, err)
	}
	return fmt.Sprintf("%s, status %s, %d sessions, %d active chats", line, h.Status, h.Sessions, h.ActiveChats)
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func serviceStart() error {
	switch runtime.GOOS {
	case "darwin":
		if b, err := runCommand("launchctl", "start", launchdLabel); err != nil {
			return fmt.Errorf("launchctl start: %s: %w", strings.TrimSpace(string(b)), err)
		}
	case "linux":
		if b, err := runCommand("systemctl", "--user", "start", systemdUnit); err != nil {
			return fmt.Errorf("systemctl start: %s: %w", strings.TrimSpace(string(b)), err)
		}
	case "windows":
		exe, err := ServiceExePath()
		if err != nil {
			return fmt.Errorf("locating executable: %w", err)
		}
		cmd := exec.Command(exe, "run")
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting bot: %w", err)
		}
		if err := cmd.Process.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "service: release process: %v\n", err)
		}
		fmt.Fprintf(out, "Bot started (PID %d).\n", cmd.Process.Pid)
		return nil
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	fmt.Fprintln(out, "Service started.")
	return nil
}

func serviceStop() error {
	switch runtime.GOOS {
	case "darwin":
		if b, err := runCommand("launchctl", "stop", launchdLabel); err != nil {
			return fmt.Errorf("launchctl stop: %s: %w", strings.TrimSpace(string(b)), err)
		}
	case "linux":
		if b, err := runCommand("systemctl", "--user", "stop", systemdUnit); err != nil {
			return fmt.Errorf("systemctl stop: %s: %w", strings.TrimSpace(string(b)), err)
		}
	case "windows":
		lf, err := daemon.ReadLockfile()
		if err != nil {
			return fmt.Errorf("no running bot found (no lockfile)")
		}
		proc, err := os.FindProcess(lf.PID)
		if err != nil {
			return fmt.Errorf("finding process: %w", err)
		}
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("killing process: %w", err)
		}
		if err := daemon.RemoveLockfile(); err != nil {
			fmt.Fprintf(os.Stderr, "service: remove lockfile: %v\n", err)
		}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	fmt.Fprintln(out, "Service stopped.")
	return nil
}
