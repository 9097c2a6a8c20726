package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/domain/entity"
)

// ExportArchive keeps rendered billing exports on the local filesystem,
// one folder per billing context below baseDir
type ExportArchive struct {
	baseDir string
	folders *FolderManager
	logger  *zap.Logger
}

// NewExportArchive creates a new ExportArchive
func NewExportArchive(baseDir string, logger *zap.Logger) *ExportArchive {
	return &ExportArchive{
		baseDir: baseDir,
		folders: NewFolderManager(baseDir, logger),
		logger:  logger,
	}
}

// Save writes an export of bc under its context folder and returns the full path.
// An existing file with the same name is replaced.
func (a *ExportArchive) Save(ctx context.Context, bc *entity.BillingContext, name string, content []byte) (string, error) {
	if bc == nil {
		return "", fmt.Errorf("cannot archive export: nil billing context")
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("cannot archive export: invalid file name %q", name)
	}

	folder, err := a.folders.CreateFolder(ctx, ContextFolderName(bc))
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(folder, name)
	if err := a.validatePath(fullPath); err != nil {
		return "", err
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		a.logger.Error("Failed to write export",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write export: %w", err)
	}

	a.logger.Info("Billing export archived",
		zap.Int64("context_id", bc.ID),
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return fullPath, nil
}

// Read returns an archived export of bc
func (a *ExportArchive) Read(ctx context.Context, bc *entity.BillingContext, name string) ([]byte, error) {
	fullPath := filepath.Join(a.folders.GetPath(ContextFolderName(bc)), name)
	if err := a.validatePath(fullPath); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return content, nil
}

// List returns the archived export file names of bc in name order
func (a *ExportArchive) List(ctx context.Context, bc *entity.BillingContext) ([]string, error) {
	entries, err := os.ReadDir(a.folders.GetPath(ContextFolderName(bc)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Purge removes every archived export of bc
func (a *ExportArchive) Purge(ctx context.Context, bc *entity.BillingContext) error {
	return a.folders.Delete(ctx, ContextFolderName(bc))
}

// ContextFolderName is "context-<id>" followed by the sanitized context name
func ContextFolderName(bc *entity.BillingContext) string {
	name := fmt.Sprintf("context-%d", bc.ID)
	if safe := SanitizeName(bc.Name); safe != "" {
		name += "_" + safe
	}
	return name
}

// validatePath checks that the path stays within baseDir
func (a *ExportArchive) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(a.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}
