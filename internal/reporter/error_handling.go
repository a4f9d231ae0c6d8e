package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
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
			WithSuggestion("use one of the formats console, json, csv, xlsx")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// WriteSafely renders report to writer. The report is rendered into memory
// first so that a failing format never leaves half a document behind; when a
// structured format fails the console format is written instead.
func (srg *SafeReportGenerator) WriteSafely(report *Report, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
	}

	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"report": report.Title,
		"output": getWriterDescription(writer),
	})
	log.Debug("Starting report generation")

	var buf bytes.Buffer
	err := srg.Write(report, &buf)
	if err != nil {
		log.WithError(err).Warn("Report generation failed, attempting fallback")
		buf.Reset()
		if fbErr := srg.writeFallback(report, &buf, err); fbErr != nil {
			return fbErr
		}
	}

	if _, err := buf.WriteTo(writer); err != nil {
		return errors.InternalError("write report", err).
			WithSuggestion("check the output destination")
	}
	log.Debug("Report generation completed")
	return nil
}

func (srg *SafeReportGenerator) writeFallback(report *Report, writer io.Writer, originalErr error) error {
	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(originalErr)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallback.Write(report, writer); err != nil {
		return errors.InternalError("report fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err))
	}
	srg.logger.WithField("fallback_format", FormatConsole).Info("Report generated using format fallback")
	return nil
}

// WriteFile renders report to path. When path cannot be created (missing
// directory, permissions, full disk) the report is saved next to the
// working directory under a backup name, and the returned path says where.
func (srg *SafeReportGenerator) WriteFile(report *Report, path string) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		if !isFileError(err) {
			return "", srg.wrapGenerationError(err)
		}
		backup := generateBackupPath(path)
		srg.logger.WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backup,
		}).WithError(err).Warn("Cannot write report file, using backup location")

		file, err = os.Create(backup)
		if err != nil {
			return "", srg.wrapGenerationError(err)
		}
		path = backup
	}
	defer file.Close()

	if err := srg.WriteSafely(report, file); err != nil {
		return "", err
	}
	return path, file.Close()
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if billingErr, ok := errors.AsBillingError(err); ok {
		return billingErr
	}
	return errors.InternalError("report generation", err).
		WithSuggestion("check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) || isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

// generateBackupPath places "<name>_backup<ext>" in the working directory
func generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_backup%s", name, ext)
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
