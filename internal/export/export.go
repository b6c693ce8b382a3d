package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/storage"
	"go.uber.org/zap"
)

// ExportFormat представляет формат файла экспорта
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ParseFormat принимает "csv" или "json" без учета регистра.
func ParseFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// HistoryExporter пишет записи журнала в файлы.
type HistoryExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewHistoryExporter создает новый экспортер истории
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger, now: time.Now}
}

// ExportWorkflows writes records into outputDir and returns the file path.
func (he *HistoryExporter) ExportWorkflows(records []*storage.WorkflowRecord, format ExportFormat, outputDir string) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no workflow records to export")
	}
	return he.export("workflows", format, outputDir, len(records), func(w io.Writer) error {
		if format == FormatCSV {
			return writeWorkflowCSV(w, records)
		}
		return he.writeJSON(w, records, len(records))
	})
}

// ExportMonitor writes monitor records into outputDir and returns the file path.
func (he *HistoryExporter) ExportMonitor(records []*storage.MonitorRecord, format ExportFormat, outputDir string) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no monitor records to export")
	}
	return he.export("monitor", format, outputDir, len(records), func(w io.Writer) error {
		if format == FormatCSV {
			return writeMonitorCSV(w, records)
		}
		return he.writeJSON(w, records, len(records))
	})
}

func (he *HistoryExporter) export(prefix string, format ExportFormat, outputDir string, count int, write func(io.Writer) error) (string, error) {
	if format != FormatCSV && format != FormatJSON {
		return "", fmt.Errorf("unsupported format: %s", format)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.%s", prefix, he.now().Format("20060102_150405"), format)
	outputPath := filepath.Join(outputDir, filename)

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := write(file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}

	he.logger.Info("History exported",
		zap.String("file", outputPath),
		zap.Int("count", count),
		zap.String("format", string(format)))
	return outputPath, nil
}

func (he *HistoryExporter) writeJSON(w io.Writer, records any, count int) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	exportData := struct {
		ExportTime  time.Time `json:"export_time"`
		RecordCount int       `json:"record_count"`
		Records     any       `json:"records"`
	}{
		ExportTime:  he.now(),
		RecordCount: count,
		Records:     records,
	}
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WorkflowCSVHeaders возвращает строку заголовков CSV сценариев.
func WorkflowCSVHeaders() []string {
	return []string{"id", "finished_at", "workflow", "pool", "total", "succeeded", "unresolved", "close_failures", "rounds", "duration_ms"}
}

func writeWorkflowCSV(w io.Writer, records []*storage.WorkflowRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(WorkflowCSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatUint(r.ID, 10),
			r.FinishedAt.UTC().Format(time.RFC3339),
			r.Workflow,
			r.Pool,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Succeeded),
			strings.Join(r.Unresolved, ";"),
			strings.Join(r.CloseFailures, ";"),
			strconv.Itoa(r.Rounds),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeMonitorCSV(w io.Writer, records []*storage.MonitorRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "at", "kind", "pool", "strategy", "accounts", "failed", "reason"}); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatUint(r.ID, 10),
			r.At.UTC().Format(time.RFC3339),
			string(r.Kind),
			r.Pool,
			r.Strategy,
			strings.Join(r.Accounts, ";"),
			strings.Join(r.Failed, ";"),
			r.Reason,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
