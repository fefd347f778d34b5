// Command markerdetect runs the GCP marker detector on an image and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"gcp-tagger/internal/config"
	"gcp-tagger/internal/detect"
	"gcp-tagger/internal/detect/cv"
)

func main() {
	imagePath := flag.String("image", "", "Path to image (JPEG, PNG, TIFF)")
	configPath := flag.String("config", config.DefaultPath(), "Configuration file")
	dir := flag.String("classifiers", "", "Classifier directory (overrides config)")
	order := flag.String("order", "", "Comma-separated classifier files, most specific first")
	scale := flag.Float64("scale", 0, "Scale factor between detection passes")
	neighbors := flag.Int("neighbors", 0, "Minimum neighbor detections")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: markerdetect -image <path> [-classifiers dir] [-order a.xml,b.xml] [-scale 1.05] [-neighbors 3]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Detector.ClassifierDir = *dir
	}
	if *order != "" {
		cfg.Detector.Classifiers = strings.Split(*order, ",")
	}
	if *scale > 0 {
		cfg.Detector.ScaleFactor = *scale
	}
	if *neighbors > 0 {
		cfg.Detector.MinNeighbors = *neighbors
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	params := cfg.Detector.Params()
	detector := detect.New(cv.New(cfg.Detector.ClassifierDir), cfg.Detector.Classifiers, params)

	fmt.Printf("Image: %s (%d bytes)\n", *imagePath, len(data))
	fmt.Printf("\nDetection parameters:\n")
	fmt.Printf("  Classifiers: %s (in %s)\n", strings.Join(detector.Classifiers(), ", "), cfg.Detector.ClassifierDir)
	fmt.Printf("  Scale factor: %.3f\n", params.ScaleFactor)
	fmt.Printf("  Min neighbors: %d\n", params.MinNeighbors)
	fmt.Printf("  Size: %dx%d - %dx%d px\n", params.MinSize.Width, params.MinSize.Height, params.MaxSize.Width, params.MaxSize.Height)

	fmt.Printf("\nDetecting marker...\n")
	center, ok, err := detector.Detect(context.Background(), data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("No marker found")
		os.Exit(2)
	}
	fmt.Printf("Marker at %.1f, %.1f\n", center.X, center.Y)
}
