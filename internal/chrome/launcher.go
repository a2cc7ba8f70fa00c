// Package chrome starts and stops isolated headless browser processes and
// discovers their DevTools endpoints.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
)

// EnvBrowserPath overrides executable discovery when set.
const EnvBrowserPath = "SIGNALER_BROWSER_PATH"

// Config controls how browser processes are launched.
type Config struct {
	// ExecPath is the browser binary; empty means discover one.
	ExecPath string
	// ExtraFlags are appended after the built-in flag set.
	ExtraFlags []string
	// BootTimeout bounds endpoint discovery after process start.
	BootTimeout time.Duration
}

// Launcher creates Browser instances. One Launcher serves many workers.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher resolves the executable once and returns a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExecPath == "" {
		path, err := FindExecutable()
		if err != nil {
			return nil, err
		}
		cfg.ExecPath = path
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 20 * time.Second
	}
	return &Launcher{cfg: cfg, logger: logger}, nil
}

// Browser is one running browser process with a private profile directory.
type Browser struct {
	WebSocketURL string

	cmd        *exec.Cmd
	profileDir string
	port       int
	logger     *zap.Logger
}

// Start launches a browser with a fresh profile and resolves its DevTools
// websocket URL via the /json/version endpoint. On any failure the process
// and profile directory are cleaned up before returning.
func (l *Launcher) Start(ctx context.Context) (*Browser, error) {
	profileDir, err := os.MkdirTemp("", "signaler-profile-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	port, err := freePort()
	if err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("reserve debugging port: %w", err)
	}

	args := []string{
		"--headless=new",
		"--disable-gpu",
		"--hide-scrollbars",
		"--mute-audio",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-extensions",
		"--user-data-dir=" + profileDir,
		"--remote-debugging-port=" + strconv.Itoa(port),
	}
	args = append(args, l.cfg.ExtraFlags...)
	args = append(args, "about:blank")

	cmd := exec.CommandContext(ctx, l.cfg.ExecPath, args...)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b := &Browser{
		cmd:        cmd,
		profileDir: profileDir,
		port:       port,
		logger:     l.logger,
	}

	wsURL, err := discoverEndpoint(ctx, port, l.cfg.BootTimeout)
	if err != nil {
		b.Stop()
		return nil, err
	}
	b.WebSocketURL = wsURL

	l.logger.Debug("browser started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", port),
		zap.String("profile_dir", profileDir),
	)
	return b, nil
}

// Stop kills the process, waits for it, and removes the profile directory.
// Safe to call on a browser that already exited.
func (b *Browser) Stop() {
	if b == nil {
		return
	}
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	if b.profileDir != "" {
		if err := os.RemoveAll(b.profileDir); err != nil {
			b.logger.Warn("remove profile dir failed", zap.String("dir", b.profileDir), zap.Error(err))
		}
	}
}

// versionInfo is the subset of /json/version the launcher consumes.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverEndpoint polls the well-known local path until the browser
// publishes its websocket URL or the boot timeout elapses.
func discoverEndpoint(ctx context.Context, port int, bootTimeout time.Duration) (string, error) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	deadline := time.Now().Add(bootTimeout)
	client := &http.Client{Timeout: 2 * time.Second}

	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("endpoint discovery: %w", err)
		}
		info, err := fetchVersion(ctx, client, endpoint)
		if err == nil && info.WebSocketDebuggerURL != "" {
			return info.WebSocketDebuggerURL, nil
		}
		if err != nil {
			lastErr = err
		}
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no websocket url published within %s", bootTimeout)
	}
	return "", &audit.ConnectError{Endpoint: endpoint, Err: lastErr}
}

func fetchVersion(ctx context.Context, client *http.Client, endpoint string) (versionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return versionInfo{}, fmt.Errorf("build version request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return versionInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return versionInfo{}, fmt.Errorf("version endpoint returned %d", resp.StatusCode)
	}
	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return versionInfo{}, fmt.Errorf("decode version payload: %w", err)
	}
	return info, nil
}

// freePort asks the OS for an unused TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// FindExecutable locates a supported browser binary: the env override first,
// then well-known names on PATH, then platform install locations.
func FindExecutable() (string, error) {
	if path := os.Getenv(EnvBrowserPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s=%q: %w", EnvBrowserPath, path, err)
		}
		return path, nil
	}

	names := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
		"chrome",
		"msedge",
		"brave-browser",
	}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, path := range platformInstallPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no supported browser executable found (set %s)", EnvBrowserPath)
}

func platformInstallPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files\BraveSoftware\Brave-Browser\Application\brave.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
			"/opt/google/chrome/chrome",
		}
	}
}
