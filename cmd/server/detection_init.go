// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package main

import (
	"fmt"

	"github.com/tomtom215/campusguard/internal/config"
	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/threat"
)

// buildDetectors registers every detector and switches off the ones listed
// in detection.disabled. Unknown names are logged and ignored.
func buildDetectors(cfg config.DetectionConfig, hist threat.EventHistory) (*threat.Engine, error) {
	engine := threat.NewEngine()

	constructors := []func() (threat.Detector, error){
		func() (threat.Detector, error) { return threat.NewBruteForceDetector(cfg.BruteForce(), hist) },
		func() (threat.Detector, error) { return threat.NewSuspiciousLoginDetector(cfg.SuspiciousLogin(), hist) },
		func() (threat.Detector, error) { return threat.NewSQLInjectionDetector() },
		func() (threat.Detector, error) { return threat.NewXSSDetector() },
		func() (threat.Detector, error) { return threat.NewMaliciousRequestDetector() },
		func() (threat.Detector, error) { return threat.NewCSRFDetector(cfg.CSRF()) },
		func() (threat.Detector, error) { return threat.NewFloodDetector(cfg.Flood(), hist) },
		func() (threat.Detector, error) { return threat.NewGeoAnomalyDetector(cfg.GeoAnomaly(), hist) },
		func() (threat.Detector, error) { return threat.NewDeviceAnomalyDetector(cfg.DeviceAnomaly(), hist) },
		func() (threat.Detector, error) { return threat.NewBehavioralDetector(cfg.Behavioral(), hist) },
	}
	for _, build := range constructors {
		d, err := build()
		if err != nil {
			return nil, fmt.Errorf("build detector: %w", err)
		}
		engine.RegisterDetector(d)
	}

	for _, name := range cfg.Disabled {
		if err := engine.SetDetectorEnabled(threat.Type(name), false); err != nil {
			logging.Warn().Str("detector", name).Msg("Unknown detector in disabled list")
			continue
		}
		logging.Info().Str("detector", name).Msg("Detector disabled")
	}
	return engine, nil
}
