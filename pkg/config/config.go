// Package config manages the directory layout and run settings for an
// import loop. It follows XDG specifications for cache, configuration
// and state, in the same way the teacher this repo is descended from did.
package config

import (
	"fmt"
	"os/user"
	"path/filepath"

	"github.com/adrg/xdg"
)

// config holds the base directories for one import run.
// This struct is immutable after initialization.
type config struct {
	cacheDir  string
	configDir string
	stateDir  string

	descriptorDir string
	recipeDir     string
	extensionsDir string
	checkoutsDir  string
	mirrorDir     string

	user     string
	hostHome string
}

// Config provides access to application-wide paths.
type Config = *config

func (c *config) CacheDir() string      { return c.cacheDir }
func (c *config) ConfigDir() string     { return c.configDir }
func (c *config) StateDir() string      { return c.stateDir }
func (c *config) DescriptorDir() string { return c.descriptorDir }
func (c *config) RecipeDir() string     { return c.recipeDir }
func (c *config) ExtensionsDir() string { return c.extensionsDir }
func (c *config) CheckoutsDir() string  { return c.checkoutsDir }
func (c *config) MirrorDir() string     { return c.mirrorDir }
func (c *config) User() string          { return c.user }
func (c *config) HostHome() string      { return c.hostHome }

// Init detects the XDG base directories and lays out the subdirectories
// an import run needs: mirror descriptors, recipes, extensions and
// working checkouts.
func Init() (Config, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	cacheDir := filepath.Join(xdg.CacheHome, "bimport")
	configDir := filepath.Join(xdg.ConfigHome, "bimport")
	stateDir := filepath.Join(xdg.StateHome, "bimport")

	return newConfig(cacheDir, configDir, stateDir, u.Username, u.HomeDir), nil
}

// NewForRoot builds a Config rooted entirely under root, bypassing XDG
// discovery. Used by tests that need an isolated, disposable directory
// tree rather than the user's real cache/config/state directories.
func NewForRoot(root string) Config {
	return newConfig(
		filepath.Join(root, "cache"),
		filepath.Join(root, "config"),
		filepath.Join(root, "state"),
		"test-user", root,
	)
}

func newConfig(cacheDir, configDir, stateDir, user, hostHome string) Config {
	return &config{
		cacheDir:      cacheDir,
		configDir:     configDir,
		stateDir:      stateDir,
		descriptorDir: filepath.Join(configDir, "lorries"),
		recipeDir:     filepath.Join(configDir, "definitions"),
		extensionsDir: filepath.Join(configDir, "extensions"),
		checkoutsDir:  filepath.Join(cacheDir, "checkouts"),
		mirrorDir:     filepath.Join(cacheDir, "mirrors"),
		user:          user,
		hostHome:      hostHome,
	}
}
