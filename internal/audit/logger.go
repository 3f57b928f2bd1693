// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/campusguard/internal/logging"
	"github.com/tomtom215/campusguard/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `koanf:"enabled" json:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `koanf:"log_level" json:"log_level"`

	// RetentionDays is how long to keep audit events.
	RetentionDays int `koanf:"retention_days" json:"retention_days"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `koanf:"buffer_size" json:"buffer_size"`

	// LogToStdout also writes events through the application logger.
	LogToStdout bool `koanf:"log_to_stdout" json:"log_to_stdout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		LogLevel:      SeverityInfo,
		RetentionDays: 365,
		BufferSize:    1000,
		LogToStdout:   true,
	}
}

// Logger is the buffered audit Sink.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a logger and starts its writer goroutine.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	toStdout := l.config.LogToStdout
	l.mu.RUnlock()

	if toStdout {
		l.logToStdout(event)
	}

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
		}
	}
}

func (l *Logger) logToStdout(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal audit event")
		return
	}
	logging.Info().RawJSON("event", data).Msg("Audit event")
}

// RecordEvent implements Sink. It stamps ID, timestamp and request
// correlation from ctx, redacts metadata, and enqueues without blocking.
func (l *Logger) RecordEvent(ctx context.Context, event Event) {
	l.mu.RLock()
	enabled := l.config.Enabled
	minLevel := l.config.LogLevel
	l.mu.RUnlock()

	if !enabled || severityOrder[event.Severity] < severityOrder[minLevel] {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if ctx != nil {
		if event.RequestID == "" {
			event.RequestID = logging.RequestIDFromContext(ctx)
		}
		if event.CorrelationID == "" {
			event.CorrelationID = logging.CorrelationIDFromContext(ctx)
		}
	}
	event.Metadata = logging.RedactMetadata(event.Metadata)

	select {
	case <-l.stopChan:
		metrics.AuditEventsDropped.Inc()
		return
	default:
	}

	select {
	case l.eventChan <- &event:
		metrics.AuditEventsRecorded.WithLabelValues(string(event.Type)).Inc()
	default:
		metrics.AuditEventsDropped.Inc()
		logging.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("Audit event buffer full, dropping event")
	}
}

// Close drains buffered events and stops the writer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// Cleanup deletes events past the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	l.mu.RLock()
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -retention)
	count, err := l.store.Delete(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
	}
	return count, nil
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Query(ctx, filter)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit logging is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}
