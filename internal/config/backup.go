// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultKeepBackups is the default number of backups to retain.
	DefaultKeepBackups = 10

	// BackupSuffix is the file extension for backup files.
	BackupSuffix = ".bak"

	// BackupTimestampFormat is the timestamp format used in backup
	// filenames (colons replaced for filesystem safety).
	BackupTimestampFormat = "2006-01-02T15-04-05"
)

// BackupInfo describes one backup file.
type BackupInfo struct {
	Path      string
	Name      string
	Timestamp time.Time
	Size      int64
}

// BackupConfig creates a timestamped copy of a configuration file in
// backupDir before it is overwritten, named
// {original_filename}.{timestamp}.bak.
func BackupConfig(configPath, backupDir string) (string, error) {
	info, err := os.Stat(configPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config path is a directory, not a file")
	}

	// #nosec G301 - backup directory needs group access
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	// #nosec G304 - configPath comes from administrator flags
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	name := fmt.Sprintf("%s.%s%s", filepath.Base(configPath),
		time.Now().Format(BackupTimestampFormat), BackupSuffix)
	backupPath := filepath.Join(backupDir, name)

	if err := os.WriteFile(backupPath, data, 0640); err != nil { // #nosec G306
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupPath, nil
}

// ListBackups returns the backups of configPath in backupDir, newest
// first.
func ListBackups(configPath, backupDir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	base := filepath.Base(configPath) + "."
	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, base) || !strings.HasSuffix(name, BackupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, base), BackupSuffix)
		ts, err := time.Parse(BackupTimestampFormat, stamp)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(backupDir, name),
			Name:      name,
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// PruneBackups removes all but the keep newest backups of configPath.
func PruneBackups(configPath, backupDir string, keep int) error {
	if keep <= 0 {
		keep = DefaultKeepBackups
	}
	backups, err := ListBackups(configPath, backupDir)
	if err != nil {
		return err
	}
	if keep > len(backups) {
		keep = len(backups)
	}
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", b.Name, err)
		}
	}
	return nil
}
