package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/pkg/export"
	"github.com/devmatch-io/devmatch-api/pkg/storage"
)

type statementUsageRepository interface {
	ListUsageBetween(ctx context.Context, subscriptionID string, from, to *time.Time) ([]models.SubscriptionUsage, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// StatementExportConfig tunes export behaviour.
type StatementExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.StatementFormat
	ExpiresAt    time.Time
}

// StatementExportService renders usage statements and persists the files.
type StatementExportService struct {
	usage   statementUsageRepository
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     StatementExportConfig
}

// NewStatementExportService constructs a StatementExportService.
func NewStatementExportService(usage statementUsageRepository, store fileStorage, signer *storage.SignedURLSigner, cfg StatementExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *StatementExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &StatementExportService{
		usage:   usage,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered file.
func (s *StatementExportService) Generate(ctx context.Context, job *models.StatementJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	rows, err := s.usage.ListUsageBetween(ctx, job.SubscriptionID, job.Params.PeriodStart, job.Params.PeriodEnd)
	if err != nil {
		return nil, err
	}

	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Period Start":    row.PeriodStart.UTC().Format("2006-01-02"),
			"Period End":      formatStatementTime(row.PeriodEnd),
			"Projects Posted": fmt.Sprintf("%d", row.ProjectsPosted),
			"Connects Used":   fmt.Sprintf("%d", row.ConnectsUsed),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Period Start", "Period End", "Projects Posted", "Connects Used"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Usage Statement %s", job.SubscriptionID)

	var payload []byte
	switch job.Params.Format {
	case models.StatementFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.StatementFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/billing/statements/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *StatementExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *StatementExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored statement file.
func (s *StatementExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured ResultTTL
// when ttl <= 0).
func (s *StatementExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *StatementExportService) buildFilename(job *models.StatementJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	subPart := sanitizeFilename(job.SubscriptionID)
	return fmt.Sprintf("statement_%s_%s.%s", subPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatStatementTime(t *time.Time) string {
	if t == nil {
		return "lifetime"
	}
	return t.UTC().Format("2006-01-02")
}
