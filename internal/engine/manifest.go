// Package engine shells out to the external Node page-analysis engine and
// parses its report. The engine's scoring is opaque; only its location,
// invocation, and output shape are handled here.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SupportedSchemaVersion is the only engine.manifest.json schema this
// binary understands.
const SupportedSchemaVersion = 1

// manifestName is the file the engine distribution ships next to its entry
// point.
const manifestName = "engine.manifest.json"

// Manifest describes one installed engine distribution.
type Manifest struct {
	SchemaVersion        int    `json:"schemaVersion"`
	EngineVersion        string `json:"engineVersion"`
	MinNode              string `json:"minNode"`
	Entry                string `json:"entry"`
	DefaultOutputDirName string `json:"defaultOutputDirName"`
}

// Info is a resolved manifest plus where it came from.
type Info struct {
	ManifestPath string
	Manifest     Manifest
	FromCache    bool
	CacheDir     string
}

// Source names where the manifest was found.
func (i Info) Source() string {
	if i.FromCache {
		return "cache"
	}
	return "local"
}

// CacheDir returns the per-user signaler cache root.
func CacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "signaler")
	}
	return filepath.Join(os.TempDir(), "signaler")
}

// Resolve locates the engine manifest: the user cache first, then next to
// the running executable, then one directory up.
func Resolve() (Info, error) {
	exe, err := os.Executable()
	if err != nil {
		return Info{}, fmt.Errorf("locate executable: %w", err)
	}
	return resolveFrom(CacheDir(), filepath.Dir(exe))
}

func resolveFrom(cacheDir, exeDir string) (Info, error) {
	candidates := []struct {
		path      string
		fromCache bool
	}{
		{filepath.Join(cacheDir, "engine", manifestName), true},
		{filepath.Join(exeDir, manifestName), false},
		{filepath.Join(filepath.Dir(exeDir), manifestName), false},
	}
	for _, c := range candidates {
		if _, err := os.Stat(c.path); err != nil {
			continue
		}
		m, err := readManifest(c.path)
		if err != nil {
			return Info{}, err
		}
		return Info{ManifestPath: c.path, Manifest: m, FromCache: c.fromCache, CacheDir: cacheDir}, nil
	}
	return Info{}, fmt.Errorf("%s not found in cache or next to the executable (searched %s)",
		manifestName, filepath.Join(exeDir, manifestName))
}

func readManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// EntryPath resolves the engine's Node entry script relative to the
// manifest, rejecting unsupported schema versions and missing entries.
func (i Info) EntryPath() (string, error) {
	if i.Manifest.SchemaVersion != SupportedSchemaVersion {
		return "", fmt.Errorf("unsupported engine manifest schemaVersion: %d", i.Manifest.SchemaVersion)
	}
	entry := filepath.Join(filepath.Dir(i.ManifestPath), i.Manifest.Entry)
	if _, err := os.Stat(entry); err != nil {
		return "", fmt.Errorf("engine entry %s: %w", entry, err)
	}
	return entry, nil
}

// CacheLayout describes the engine cache directory structure for
// inspection commands.
type CacheLayout struct {
	SchemaVersion         int    `json:"schemaVersion"`
	CacheDir              string `json:"cacheDir"`
	EnginesDir            string `json:"enginesDir"`
	LatestDir             string `json:"latestDir"`
	VersionDir            string `json:"versionDir"`
	SelectedDir           string `json:"selectedDir"`
	SelectionKind         string `json:"selectionKind"`
	SelectionValue        string `json:"selectionValue"`
	SelectionState        string `json:"selectionState"`
	LatestAvailable       bool   `json:"latestAvailable"`
	LatestManifestVersion string `json:"latestManifestVersion,omitempty"`
	LatestMatchesManifest bool   `json:"latestMatchesManifest"`
	ManifestEngineVersion string `json:"manifestEngineVersion"`
}

// Layout computes the cache layout the resolved manifest implies.
func (i Info) Layout() CacheLayout {
	enginesDir := filepath.Join(i.CacheDir, "engine")
	latestDir := filepath.Join(enginesDir, "latest")
	versionDir := filepath.Join(enginesDir, i.Manifest.EngineVersion)

	layout := CacheLayout{
		SchemaVersion:         SupportedSchemaVersion,
		CacheDir:              i.CacheDir,
		EnginesDir:            enginesDir,
		LatestDir:             latestDir,
		VersionDir:            versionDir,
		SelectedDir:           versionDir,
		SelectionKind:         "manifest_version",
		SelectionValue:        i.Manifest.EngineVersion,
		SelectionState:        "pinned",
		ManifestEngineVersion: i.Manifest.EngineVersion,
	}
	if _, err := os.Stat(latestDir); err == nil {
		layout.LatestAvailable = true
		if m, err := readManifest(filepath.Join(latestDir, manifestName)); err == nil {
			layout.LatestManifestVersion = m.EngineVersion
			if m.EngineVersion == i.Manifest.EngineVersion {
				layout.LatestMatchesManifest = true
				layout.SelectionState = "latest"
			}
		}
	}
	return layout
}

// ResolutionReport is the JSON payload of the engine inspection commands.
type ResolutionReport struct {
	SchemaVersion  int         `json:"schemaVersion"`
	ManifestPath   string      `json:"manifestPath"`
	EntryPath      string      `json:"entryPath"`
	ManifestSource string      `json:"manifestSource"`
	CacheLayout    CacheLayout `json:"cacheLayout"`
}

// Report builds the full resolution report, including the entry path.
func (i Info) Report() (ResolutionReport, error) {
	entry, err := i.EntryPath()
	if err != nil {
		return ResolutionReport{}, err
	}
	return ResolutionReport{
		SchemaVersion:  SupportedSchemaVersion,
		ManifestPath:   i.ManifestPath,
		EntryPath:      entry,
		ManifestSource: i.Source(),
		CacheLayout:    i.Layout(),
	}, nil
}
