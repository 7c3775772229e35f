package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging, error wrapping
// and a console fallback for the structured formats.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the report to writer. When a JSON or CSV
// rendering fails the console format is written instead.
func (srg *SafeReportGenerator) GenerateReportSafely(report *Report, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil)
	}

	srg.logger.WithFields(logger.Fields{
		"format":     srg.config.Format,
		"matches":    len(report.Matches),
		"exceptions": len(report.Exceptions),
	}).Debug("Generating report")

	err := srg.GenerateReport(report, writer)
	if err == nil {
		return nil
	}
	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithError(err).WithField("fallback_format", FormatConsole).Warn("Report generation failed, falling back to console format")

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}
	fmt.Fprintf(writer, "NOTE: Report generated in console format due to an error with %s: %v\n\n", srg.config.Format, err)
	if ferr := fallback.GenerateReport(report, writer); ferr != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}
	return nil
}

// WriteFile renders the report into path, creating parent directories. The
// file is written next to its destination and renamed into place.
func (srg *SafeReportGenerator) WriteFile(report *Report, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(errors.CodeFilePermission, dir, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer os.Remove(tmp.Name())

	if err := srg.GenerateReportSafely(report, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}

	srg.logger.WithFields(logger.Fields{
		"path":   path,
		"format": srg.config.Format,
	}).Info("Report written")
	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "report generation failed")
}
