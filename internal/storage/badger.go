// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

// Package storage opens the Badger database that holds incidents, the
// blocklist and account state, and keeps its value log compact.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit. Incident evidence is the audit
	// record of a response, so it defaults on in production.
	SyncWrites bool
}

// Open opens (or creates) the database.
func Open(opts Options) (*badger.DB, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("badger path is required for on-disk storage")
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Compression = options.Snappy
	bopts.Logger = badgerLogger{l: logging.WithComponent("badger")}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("Storage opened")
	return db, nil
}

// GC runs value-log garbage collection until Badger reports nothing left to
// rewrite. It returns how many log files were rewritten.
func GC(ctx context.Context, db *badger.DB, discardRatio float64) (int, error) {
	start := time.Now()
	defer func() {
		metrics.StorageGCDuration.Observe(time.Since(start).Seconds())
	}()

	rewrites := 0
	for ctx.Err() == nil {
		err := db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		if err != nil {
			return rewrites, fmt.Errorf("run value log GC: %w", err)
		}
		rewrites++
		metrics.StorageGCRewrites.Inc()
	}
	return rewrites, nil
}

// badgerLogger routes Badger's printf-style logs into zerolog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error().Msg(trimLine(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn().Msg(trimLine(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug().Msg(trimLine(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Trace().Msg(trimLine(format, args...))
}

func trimLine(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
