package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Paths contains the resolved locations the pipeline reads and writes.
type Paths struct {
	BaseDir    string
	DataDir    string
	ReportsDir string
	CacheDir   string
	LogsDir    string
	Database   string
}

// ResolvePaths makes every configured path absolute. Relative paths are
// anchored at BaseDir, or the working directory when BaseDir is empty.
func ResolvePaths(cfg PathsConfig) (*Paths, error) {
	base := cfg.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	abs := func(p, fallback string) string {
		if p == "" {
			p = fallback
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(base, p)
	}

	dataDir := abs(cfg.DataDir, "data")
	paths := &Paths{
		BaseDir:    base,
		DataDir:    dataDir,
		ReportsDir: dataDir,
		CacheDir:   filepath.Join(dataDir, "cache"),
		LogsDir:    abs(cfg.LogsDir, "logs"),
		Database:   filepath.Join(dataDir, "indicators.db"),
	}
	if cfg.ReportsDir != "" {
		paths.ReportsDir = abs(cfg.ReportsDir, "")
	}
	if cfg.Database != "" {
		paths.Database = abs(cfg.Database, "")
	}
	return paths, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.ReportsDir,
		p.CacheDir,
		p.LogsDir,
		filepath.Dir(p.Database),
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SafeFileName maps a country name onto a portable file name stem.
func SafeFileName(name string) string {
	cleaned := unsafeFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "_"
	}
	return cleaned
}

// ReportPath returns {reports_dir}/{country}.{ext}.
func (p *Paths) ReportPath(country, ext string) string {
	return filepath.Join(p.ReportsDir, SafeFileName(country)+"."+strings.TrimPrefix(ext, "."))
}

// LogPath returns the path to a log file in the logs directory
func (p *Paths) LogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// LogPathResolution logs every resolved path at startup.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Info("resolved paths",
		slog.String("base_dir", p.BaseDir),
		slog.String("data_dir", p.DataDir),
		slog.String("reports_dir", p.ReportsDir),
		slog.String("cache_dir", p.CacheDir),
		slog.String("logs_dir", p.LogsDir),
		slog.String("database", p.Database))
}
