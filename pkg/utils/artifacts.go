package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactManager organizes export artifacts under one base directory.
// In-progress files live in a shared tmp subdirectory and are renamed
// into a per-job directory only on success, so readers never observe a
// half-written artifact.
type ArtifactManager struct {
	BaseOutputDir string
}

// NewArtifactManager creates a new artifact manager.
func NewArtifactManager(baseOutputDir string) *ArtifactManager {
	return &ArtifactManager{
		BaseOutputDir: baseOutputDir,
	}
}

// EnsureBaseDirs makes sure the artifact root and its tmp area exist.
func (am *ArtifactManager) EnsureBaseDirs() error {
	if err := os.MkdirAll(am.BaseOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return os.MkdirAll(am.tmpDir(), 0755)
}

// TempFilePath returns the in-progress path for a job's artifact.
func (am *ArtifactManager) TempFilePath(jobID, ext string) string {
	return filepath.Join(am.tmpDir(), jobID+ext)
}

// Finalize moves a finished temp artifact into the job's directory and
// returns the final path.
func (am *ArtifactManager) Finalize(tempPath, jobID, fileName string) (string, error) {
	jobDir := filepath.Join(am.BaseOutputDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job output directory: %w", err)
	}

	finalPath := filepath.Join(jobDir, filepath.Base(fileName))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return finalPath, nil
}

// Discard removes a temp artifact. A file that never got created is
// not an error.
func (am *ArtifactManager) Discard(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard temp artifact: %w", err)
	}
	return nil
}

// GetFileSize returns the size of a file in bytes.
func (am *ArtifactManager) GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// DownloadURL generates the download URL for a job's artifact.
func (am *ArtifactManager) DownloadURL(jobID string) string {
	return fmt.Sprintf("/api/v1/exports/%s/download", jobID)
}

func (am *ArtifactManager) tmpDir() string {
	return filepath.Join(am.BaseOutputDir, "tmp")
}
