package engine

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/signaler-dev/signaler/internal/chrome"
)

// MinNodeMajor is the lowest Node major version the engine supports.
const MinNodeMajor = 20

// CheckResult is one doctor probe outcome.
type CheckResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// DoctorReport aggregates the environment probes the engine pathway needs.
type DoctorReport struct {
	OK      bool        `json:"ok"`
	Node    CheckResult `json:"node"`
	Browser CheckResult `json:"browser"`
}

// CommandOutput captures one command's trimmed stdout. Tests inject fakes.
type CommandOutput func(name string, args ...string) (string, error)

// RunCommandOutput is the real CommandOutput.
func RunCommandOutput(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// parseNodeMajor extracts the major version from strings like "v20.11.1".
func parseNodeMajor(version string) (int, bool) {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	head, _, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}

// CheckNode probes `node --version` and enforces the minimum major.
func CheckNode(capture CommandOutput, minMajor int) CheckResult {
	version, err := capture("node", "--version")
	if err != nil {
		return CheckResult{Detail: fmt.Sprintf("Node not found or not runnable: %v", err)}
	}
	major, ok := parseNodeMajor(version)
	switch {
	case !ok:
		return CheckResult{Detail: fmt.Sprintf("unrecognized Node version string: %s", version)}
	case major < minMajor:
		return CheckResult{Detail: fmt.Sprintf("%s (major %d) is below required %d", version, major, minMajor)}
	default:
		return CheckResult{OK: true, Detail: fmt.Sprintf("%s (>= %d)", version, minMajor)}
	}
}

// CheckBrowser probes for a supported browser executable.
func CheckBrowser() CheckResult {
	path, err := chrome.FindExecutable()
	if err != nil {
		return CheckResult{Detail: err.Error()}
	}
	return CheckResult{OK: true, Detail: path}
}

// Doctor runs every probe and aggregates the verdict.
func Doctor(capture CommandOutput) DoctorReport {
	node := CheckNode(capture, MinNodeMajor)
	browser := CheckBrowser()
	return DoctorReport{OK: node.OK && browser.OK, Node: node, Browser: browser}
}
