// discovery.go: Filesystem discovery of plugin units
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agilira/go-timecache"
	"gopkg.in/yaml.v3"
)

const (
	manifestJSON     = "plugin.json"
	manifestYAML     = "plugin.yaml"
	defaultEntryFile = "plugin.go"
	secretsFile      = "secrets.env"
	settingsFile     = "settings.json"
)

// DiscoveredPlugin is one valid plugin unit found by a directory scan.
type DiscoveredPlugin struct {
	Manifest  *PluginManifest
	Dir       string
	EntryPath string
}

// PluginScanner walks a plugin directory and builds manifests for every
// valid unit it finds. Invalid units are skipped with a diagnostic, never
// fatal to the scan.
type PluginScanner struct {
	dir    string
	logger Logger
}

// NewPluginScanner creates a scanner rooted at dir.
func NewPluginScanner(dir string, logger Logger) *PluginScanner {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &PluginScanner{dir: dir, logger: logger}
}

// Scan discovers every plugin unit under the root directory. A plugin is a
// direct subdirectory containing a manifest file and an entry source file.
// A missing root directory is an empty result, not an error.
func (ps *PluginScanner) Scan() ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(ps.dir)
	if err != nil {
		if os.IsNotExist(err) {
			ps.logger.Warn("Plugin directory does not exist", "dir", ps.dir)
			return nil, nil
		}
		return nil, NewDiscoveryError(ps.dir, err)
	}

	var discovered []*DiscoveredPlugin
	seen := make(map[string]string)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(ps.dir, entry.Name())

		manifest, err := loadManifest(pluginDir)
		if err != nil {
			ps.logger.Warn("Skipping plugin directory with invalid manifest",
				"dir", pluginDir,
				"error", err)
			continue
		}

		entryPath := filepath.Join(pluginDir, manifest.Entry)
		if _, err := os.Stat(entryPath); err != nil {
			ps.logger.Warn("Skipping plugin without entry source",
				"plugin", manifest.Name,
				"entry", entryPath)
			continue
		}

		if prev, dup := seen[manifest.Name]; dup {
			ps.logger.Warn("Duplicate plugin name; ignoring later unit",
				"plugin", manifest.Name,
				"kept", prev,
				"ignored", pluginDir)
			continue
		}
		seen[manifest.Name] = pluginDir

		discovered = append(discovered, &DiscoveredPlugin{
			Manifest:  manifest,
			Dir:       pluginDir,
			EntryPath: entryPath,
		})
	}

	ps.logger.Info("Plugin scan completed",
		"dir", ps.dir,
		"found", len(discovered))
	return discovered, nil
}

// loadManifest reads and validates plugin.json or plugin.yaml from dir.
func loadManifest(dir string) (*PluginManifest, error) {
	var (
		data []byte
		err  error
		path string
		yml  bool
	)

	path = filepath.Join(dir, manifestJSON)
	data, err = os.ReadFile(path)
	if os.IsNotExist(err) {
		path = filepath.Join(dir, manifestYAML)
		data, err = os.ReadFile(path)
		yml = true
	}
	if err != nil {
		return nil, NewManifestError(dir, err)
	}

	var manifest PluginManifest
	if yml {
		err = yaml.Unmarshal(data, &manifest)
	} else {
		err = json.Unmarshal(data, &manifest)
	}
	if err != nil {
		return nil, NewManifestError(path, err)
	}

	if strings.TrimSpace(manifest.Name) == "" {
		return nil, NewManifestError(path, NewInvalidPluginNameError(manifest.Name))
	}
	if manifest.Version == "" {
		manifest.Version = "0.0.0"
	}
	if _, err := ParseVersion(manifest.Version); err != nil {
		return nil, NewManifestError(path, err)
	}
	if manifest.Entry == "" {
		manifest.Entry = defaultEntryFile
	}
	return &manifest, nil
}

// descriptorFromDiscovery builds a fresh descriptor for a discovered unit.
func descriptorFromDiscovery(d *DiscoveredPlugin) *PluginDescriptor {
	version, _ := ParseVersion(d.Manifest.Version) // validated during scan
	return &PluginDescriptor{
		Name:         d.Manifest.Name,
		SourcePath:   d.Dir,
		EntryPath:    d.EntryPath,
		Version:      version,
		Dependencies: append([]string{}, d.Manifest.Dependencies...),
		State:        StateDiscovered,
		DiscoveredAt: timecache.CachedTime(),
		manifest:     d.Manifest,
	}
}

// loadPluginSettings reads a plugin's optional settings.json and
// secrets.env. Both files are plugin-owned; the kernel parses the envelope
// formats but never interprets the contents.
func loadPluginSettings(dir string) PluginSettings {
	var settings PluginSettings

	if data, err := os.ReadFile(filepath.Join(dir, settingsFile)); err == nil {
		var blob map[string]any
		if json.Unmarshal(data, &blob) == nil {
			settings.Settings = blob
		}
	}

	if file, err := os.Open(filepath.Join(dir, secretsFile)); err == nil {
		defer func() { _ = file.Close() }()
		settings.Secrets = parseSecrets(file)
	}
	return settings
}

// parseSecrets reads key=value lines, skipping blanks and # comments.
func parseSecrets(file *os.File) map[string]string {
	secrets := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		secrets[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(secrets) == 0 {
		return nil
	}
	return secrets
}
