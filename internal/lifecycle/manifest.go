// Package lifecycle manages cache generations across releases: precaching
// the app shell into a fresh generation, promoting it to active, sweeping
// stale generations, and handling control messages from clients.
package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest lists the origin paths precached into the core partition during
// install. The list is versioned together with the release: changing it
// warrants a new cache version.
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// DefaultManifest returns the built-in app-shell asset list.
func DefaultManifest() Manifest {
	return Manifest{Assets: []string{
		"/",
		"/index.html",
		"/styles.css",
		"/app.js",
		"/news.json",
		"/manifest.json",
		"/evknews.png",
		"/icon-192.png",
		"/icon-512.png",
		"/vendor/swiper-bundle.min.css",
		"/vendor/swiper-bundle.min.js",
	}}
}

// LoadManifest reads a manifest file. An empty path selects the built-in
// default list.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading precache manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing precache manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return Manifest{}, fmt.Errorf("precache manifest %s lists no assets", path)
	}
	return m, nil
}
