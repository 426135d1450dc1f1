package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/batalabs/soundgrab/internal/config"
)

// ErrAlreadyRunning is returned by AcquireLock when another bot process
// holds the lockfile. Two pollers on one token make Telegram reject both.
var ErrAlreadyRunning = errors.New("soundgrab is already running")

// LockfileData is the JSON structure stored in the lockfile.
type LockfileData struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr,omitempty"` // health endpoint, if served
	StartedAt time.Time `json:"started_at"`
}

// LockfileName is the filename of the lockfile.
const LockfileName = "soundgrab.lock"

// lockDirOverride replaces config.DataDir in tests.
var lockDirOverride string

// LockfilePath returns the path to the lockfile.
func LockfilePath() (string, error) {
	if lockDirOverride != "" {
		return filepath.Join(lockDirOverride, LockfileName), nil
	}
	dir, err := config.DataDir()
	if err != nil {
		return "", fmt.Errorf("lockfile path: %w", err)
	}
	return filepath.Join(dir, LockfileName), nil
}

// WriteLockfile writes the lockfile with the current PID, health address
// and timestamp.
func WriteLockfile(addr string) error {
	p, err := LockfilePath()
	if err != nil {
		return err
	}
	data := LockfileData{
		PID:       os.Getpid(),
		Addr:      addr,
		StartedAt: time.Now(),
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}
	return os.WriteFile(p, b, 0o600)
}

// ReadLockfile reads and parses the lockfile.
// Returns an error if the file does not exist or cannot be parsed.
func ReadLockfile() (*LockfileData, error) {
	p, err := LockfilePath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}
	var lf LockfileData
	if err := json.Unmarshal(b, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile: %w", err)
	}
	return &lf, nil
}

// RemoveLockfile removes the lockfile.
func RemoveLockfile() error {
	p, err := LockfilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lockfile: %w", err)
	}
	return nil
}

// IsLockfileStale reports whether the lockfile no longer refers to a live
// bot: the process is gone, or its health endpoint does not answer.
func IsLockfileStale(lf *LockfileData) bool {
	if lf == nil || lf.PID == os.Getpid() {
		return true
	}
	if !IsProcessAlive(lf.PID) {
		return true
	}
	if lf.Addr == "" {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + lf.Addr + "/api/health")
	if err != nil {
		return true
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusOK
}

// AcquireLock claims the lockfile for this process. A stale lockfile left by
// a crashed process is replaced.
func AcquireLock(addr string) error {
	if lf, err := ReadLockfile(); err == nil && !IsLockfileStale(lf) {
		return fmt.Errorf("%w (pid %d, since %s)", ErrAlreadyRunning, lf.PID, lf.StartedAt.Format(time.RFC3339))
	}
	if err := WriteLockfile(addr); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}
	return nil
}
