// Package main provides the entry point for the GCP Tagger application.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"gcp-tagger/internal/app"
	"gcp-tagger/internal/cli"
	"gcp-tagger/internal/config"
	"gcp-tagger/internal/detect"
	"gcp-tagger/internal/detect/cv"
	"gcp-tagger/internal/license"
	"gcp-tagger/internal/version"
)

const appTitle = "GCP Tagger"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting %s %s", appTitle, version.String())

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	appPrefs := config.LoadPrefs()

	detector := detect.New(cv.New(cfg.Detector.ClassifierDir), cfg.Detector.Classifiers, cfg.Detector.Params())
	log.Printf("Detect: classifiers %v in %s", detector.Classifiers(), cfg.Detector.ClassifierDir)

	appState := app.NewState(detector, newLicenseChecker(appPrefs))
	defer appState.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shell := cli.New(appState, cfg, appPrefs, os.Stdin, os.Stdout)

	// Handle command line arguments
	projectPath := appPrefs.String(config.PrefLastProject)
	if len(os.Args) > 1 {
		projectPath = os.Args[1]
	}
	if projectPath != "" {
		if err := shell.Open(ctx, projectPath); err != nil {
			log.Printf("Failed to load project %s: %v", filepath.Base(projectPath), err)
		}
	}

	if err := shell.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Shell: %v", err)
	}
}

// newLicenseChecker validates the stored key in release builds.
func newLicenseChecker(p *config.Prefs) license.Checker {
	if version.LicenseSecret == "" {
		return license.Dev{}
	}
	return license.KeyChecker{
		Secret:  []byte(version.LicenseSecret),
		Product: license.Product,
		Key:     func() string { return p.String(config.PrefLicenseKey) },
	}
}
