// Package logger exports completed reflow sessions to disk: one CSV with
// every buffered sample plus PNG and SVG renderings of the temperature chart.
package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// Exporter writes session artifacts keyed by <timestamp>-<profile>.
type Exporter struct {
	dir    string
	images bool
	log    *zap.SugaredLogger
}

// Config holds exporter configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Images  bool   `yaml:"images" json:"images"`
}

const keyTimeLayout = "2006-01-02_150405"

// New creates a new Exporter.
func New(cfg Config, log *zap.SugaredLogger) *Exporter {
	if cfg.Path == "" {
		cfg.Path = "./reflow-logs"
	}
	return &Exporter{
		dir:    cfg.Path,
		images: cfg.Images,
		log:    log,
	}
}

// Key returns the file stem shared by all artifacts of one session.
func Key(ts time.Time, profile string) string {
	return ts.Format(keyTimeLayout) + "-" + sanitize(profile)
}

// sanitize makes a profile name safe to embed in a file name.
func sanitize(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '/', '\\', ':', '#', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, profile)
}

// Persist writes the CSV and, when enabled, the chart images.
func (e *Exporter) Persist(s *session.Session) error {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", e.dir, err)
	}

	ts := s.Ended
	if ts.IsZero() {
		ts = time.Now()
	}
	stem := filepath.Join(e.dir, Key(ts, s.Profile))

	if err := writeCSV(stem+".csv", s.Samples); err != nil {
		return err
	}
	e.log.Infof("[export] wrote %s.csv (%d rows)", stem, len(s.Samples))

	if !e.images {
		return nil
	}
	if !plottable(s.Samples) {
		e.log.Infof("[export] skipping chart for %s: no time or temperature range to plot", filepath.Base(stem))
		return nil
	}
	for _, format := range []imageFormat{formatPNG, formatSVG} {
		path := stem + format.ext()
		if err := writeChart(path, format, s); err != nil {
			return err
		}
		e.log.Infof("[export] wrote %s", path)
	}
	return nil
}

func writeCSV(path string, samples []telemetry.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(telemetry.Fields); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, s := range samples {
		if err := w.Write(buildRow(s)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

func buildRow(s telemetry.Sample) []string {
	row := make([]string, len(telemetry.Fields))
	row[0] = fmt.Sprintf("%.1f", s.Time)
	row[1] = fmt.Sprintf("%.1f", s.Temp0)
	row[2] = fmt.Sprintf("%.1f", s.Temp1)
	row[3] = fmt.Sprintf("%.1f", s.Temp2)
	row[4] = fmt.Sprintf("%.1f", s.Temp3)
	row[5] = fmt.Sprintf("%.1f", s.Set)
	row[6] = fmt.Sprintf("%.1f", s.Actual)
	row[7] = strconv.Itoa(s.Heat)
	row[8] = strconv.Itoa(s.Fan)
	row[9] = fmt.Sprintf("%.1f", s.ColdJ)
	row[10] = string(s.Mode)
	return row
}
