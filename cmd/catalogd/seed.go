package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

type seededBrand struct {
	brandID  string
	schedule string
}

// seedSites creates the brands listed in path and registers their data
// strategies. A missing file is not an error.
func seedSites(path string, stores *store.Stores, strategies *scraper.Registry, logger *slog.Logger) ([]seededBrand, error) {
	if path == "" {
		return nil, nil
	}
	file, err := config.LoadSites(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("sites file not found, starting without seed brands", slog.String("path", path))
			return nil, nil
		}
		return nil, err
	}

	seeded := make([]seededBrand, 0, len(file.Brands))
	for _, site := range file.Brands {
		if site.Scraper != nil {
			strategy, err := strategies.FromSpec(*site.Scraper)
			if err != nil {
				return nil, fmt.Errorf("brand %q strategy: %w", site.Name, err)
			}
			strategies.Register(site.Name, strategy)
		}

		brand, err := stores.Brands.Create(models.Brand{
			Name:    site.Name,
			Website: site.Website,
			BaseURL: site.BaseURL,
			Active:  site.IsActive(),
		})
		if err != nil {
			return nil, fmt.Errorf("seed brand: %w", err)
		}
		seeded = append(seeded, seededBrand{brandID: brand.ID, schedule: site.Schedule})
		logger.Info("brand seeded",
			slog.String("brand", brand.Name),
			slog.String("website", brand.Website),
			slog.Bool("custom_strategy", strategies.Registered(brand.Name)),
		)
	}
	return seeded, nil
}
