// Package sqlite stores tagging projects in a SQLite database through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/storage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GCPRecord is a row of the gcps table.
type GCPRecord struct {
	Name      string  `gorm:"column:name;primaryKey"`
	Easting   float64 `gorm:"column:easting"`
	Northing  float64 `gorm:"column:northing"`
	Elevation float64 `gorm:"column:elevation"`
	Position  int     `gorm:"column:position"`
}

func (GCPRecord) TableName() string { return "gcps" }

// ProjectionRecord holds the single project projection.
type ProjectionRecord struct {
	ID         uint   `gorm:"column:id;primaryKey"`
	Definition string `gorm:"column:definition"`
}

func (ProjectionRecord) TableName() string { return "projections" }

// ImageRecord is a row of the images table.
type ImageRecord struct {
	Name     string   `gorm:"column:name;primaryKey"`
	Path     string   `gorm:"column:path"`
	Lat      *float64 `gorm:"column:lat"`
	Lng      *float64 `gorm:"column:lng"`
	Alt      *float64 `gorm:"column:alt"`
	Position int      `gorm:"column:position"`
}

func (ImageRecord) TableName() string { return "images" }

// AssociationRecord is a row of the image_gcps table. The composite primary
// key enforces one tag per (gcp, image).
type AssociationRecord struct {
	GCPName   string  `gorm:"column:gcp_name;primaryKey"`
	ImageName string  `gorm:"column:img_name;primaryKey;index"`
	ImX       float64 `gorm:"column:im_x"`
	ImY       float64 `gorm:"column:im_y"`
	Position  int     `gorm:"column:position"`
}

func (AssociationRecord) TableName() string { return "image_gcps" }

// Store is a storage.Backend on a SQLite file.
type Store struct {
	db *gorm.DB
}

// Options configures Open.
type Options struct {
	LogLevel logger.LogLevel // Defaults to logger.Silent
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	level := opts.LogLevel
	if level == 0 {
		level = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&GCPRecord{}, &ProjectionRecord{}, &ImageRecord{}, &AssociationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Storage: opened %s", path)
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load reads the whole project.
func (s *Store) Load(ctx context.Context) (*storage.Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := &storage.Snapshot{}

	var gcps []GCPRecord
	if err := db.Order("position").Find(&gcps).Error; err != nil {
		return nil, fmt.Errorf("failed to load gcps: %w", err)
	}
	for _, r := range gcps {
		snap.GCPs = append(snap.GCPs, gcp.GCP{Name: r.Name, Easting: r.Easting, Northing: r.Northing, Elevation: r.Elevation})
	}

	var proj ProjectionRecord
	err := db.First(&proj).Error
	switch {
	case err == nil:
		snap.Projection = &gcp.Projection{Definition: proj.Definition}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to load projection: %w", err)
	}

	var images []ImageRecord
	if err := db.Order("position").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	for _, r := range images {
		img := image.Image{Name: r.Name, Path: r.Path}
		if r.Lat != nil && r.Lng != nil {
			img.GPS = &image.GPSCoords{Lat: *r.Lat, Lng: *r.Lng}
			if r.Alt != nil {
				img.GPS.Alt = *r.Alt
			}
		}
		snap.Images = append(snap.Images, img)
	}

	var assocs []AssociationRecord
	if err := db.Order("position").Find(&assocs).Error; err != nil {
		return nil, fmt.Errorf("failed to load associations: %w", err)
	}
	for _, r := range assocs {
		snap.Associations = append(snap.Associations, gcp.Association{
			GCPName: r.GCPName, ImageName: r.ImageName, ImX: r.ImX, ImY: r.ImY,
		})
	}

	return snap, nil
}

// Save replaces the stored project with snap in a single transaction.
func (s *Store) Save(ctx context.Context, snap *storage.Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&AssociationRecord{}, &ImageRecord{}, &ProjectionRecord{}, &GCPRecord{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", model, err)
			}
		}

		if len(snap.GCPs) > 0 {
			rows := make([]GCPRecord, 0, len(snap.GCPs))
			for i, g := range snap.GCPs {
				rows = append(rows, GCPRecord{Name: g.Name, Easting: g.Easting, Northing: g.Northing, Elevation: g.Elevation, Position: i})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to save gcps: %w", err)
			}
		}

		if snap.Projection != nil {
			if err := tx.Create(&ProjectionRecord{ID: 1, Definition: snap.Projection.Definition}).Error; err != nil {
				return fmt.Errorf("failed to save projection: %w", err)
			}
		}

		if len(snap.Images) > 0 {
			rows := make([]ImageRecord, 0, len(snap.Images))
			for i, img := range snap.Images {
				r := ImageRecord{Name: img.Name, Path: img.Path, Position: i}
				if img.GPS != nil {
					lat, lng, alt := img.GPS.Lat, img.GPS.Lng, img.GPS.Alt
					r.Lat, r.Lng, r.Alt = &lat, &lng, &alt
				}
				rows = append(rows, r)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to save images: %w", err)
			}
		}

		if len(snap.Associations) > 0 {
			rows := make([]AssociationRecord, 0, len(snap.Associations))
			for i, a := range snap.Associations {
				rows = append(rows, AssociationRecord{GCPName: a.GCPName, ImageName: a.ImageName, ImX: a.ImX, ImY: a.ImY, Position: i})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to save associations: %w", err)
			}
		}

		return nil
	})
}
