package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// FolderManager creates and removes named folders below a base directory
type FolderManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(baseDir string, logger *zap.Logger) *FolderManager {
	return &FolderManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// CreateFolder creates the folder for name if needed and returns its path
func (m *FolderManager) CreateFolder(ctx context.Context, name string) (string, error) {
	safeName := SanitizeName(name)
	if safeName == "" {
		return "", fmt.Errorf("cannot create folder: empty name")
	}

	folderPath := filepath.Join(m.baseDir, safeName)
	if err := os.MkdirAll(folderPath, 0755); err != nil {
		m.logger.Error("Failed to create folder",
			zap.String("name", name),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	m.logger.Debug("Created folder", zap.String("folder_path", folderPath))
	return folderPath, nil
}

// GetPath returns the path for a folder without creating it
func (m *FolderManager) GetPath(name string) string {
	return filepath.Join(m.baseDir, SanitizeName(name))
}

// Exists checks if the folder already exists
func (m *FolderManager) Exists(name string) bool {
	info, err := os.Stat(m.GetPath(name))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Delete removes a folder and all contents. Missing folders are not an error.
func (m *FolderManager) Delete(ctx context.Context, name string) error {
	safeName := SanitizeName(name)
	if safeName == "" {
		return fmt.Errorf("cannot delete folder: empty name")
	}
	folderPath := filepath.Join(m.baseDir, safeName)

	if _, err := os.Stat(folderPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(folderPath); err != nil {
		m.logger.Error("Failed to delete folder",
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete folder: %w", err)
	}

	m.logger.Debug("Deleted folder", zap.String("folder_path", folderPath))
	return nil
}

// SanitizeName keeps only ASCII letters, digits, hyphens and underscores.
// Order codes such as "ORD12/25-26" become "ORD1225-26".
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return unsafeChars.ReplaceAllString(name, "")
}
