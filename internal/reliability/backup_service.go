package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	archivePrefix   = "greenfolio-backup-"
	archiveSuffix   = ".tar.gz"
	archiveTimeFmt  = "2006-01-02-150405"
	metadataFile    = "backup-metadata.json"
	metadataVersion = "1"
)

// Snapshotter writes a consistent copy of a database to a file.
// *database.DB satisfies it.
type Snapshotter interface {
	Name() string
	BackupTo(ctx context.Context, path string) error
}

// BackupMetadata is stored next to the databases in every archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata contains metadata about a single database in the backup
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo represents information about a stored backup
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService snapshots databases into a tar.gz archive and uploads it.
type BackupService struct {
	store     ObjectStore
	databases []Snapshotter
	prefix    string
	stageDir  string
	now       func() time.Time
	log       zerolog.Logger
}

// NewBackupService creates a backup service. Archives are staged under
// stageDir and stored under prefix in the object store.
func NewBackupService(store ObjectStore, databases []Snapshotter, prefix, stageDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		prefix:    strings.Trim(prefix, "/"),
		stageDir:  stageDir,
		now:       time.Now,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

func (s *BackupService) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// CreateAndUpload snapshots every database, archives the snapshots with a
// checksum manifest and uploads the archive. It returns the object key.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	s.log.Info().Int("databases", len(s.databases)).Msg("Starting backup")
	startTime := time.Now()

	if err := os.MkdirAll(s.stageDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	staging, err := os.MkdirTemp(s.stageDir, "backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	now := s.now().UTC()
	metadata := BackupMetadata{
		Timestamp: now,
		Version:   metadataVersion,
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		dbPath := filepath.Join(staging, filename)

		if err := db.BackupTo(ctx, dbPath); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(staging, metadataFile), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	archiveName := archivePrefix + now.Format(archiveTimeFmt) + archiveSuffix
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, staging, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	key := s.key(archiveName)
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("key", key).
		Msg("Backup completed")
	return key, nil
}

// ListBackups returns stored backups, newest first. Objects whose names do
// not parse as backups are skipped.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.key(archivePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		ts, err := time.Parse(archiveTimeFmt, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{Key: obj.Key, Timestamp: ts, SizeBytes: obj.Size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes all but the newest keep backups and returns how many it
// removed. Failed deletions are logged and skipped.
func (s *BackupService) Rotate(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return deleted, nil
}

// ReadMetadata extracts the manifest from an archive and verifies every
// listed database against its checksum.
func ReadMetadata(archive io.Reader) (*BackupMetadata, error) {
	gz, err := gzip.NewReader(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	sums := make(map[string]string)
	var metadata *BackupMetadata
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if header.Name == metadataFile {
			metadata = &BackupMetadata{}
			if err := json.NewDecoder(tr).Decode(metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
			continue
		}
		hash := sha256.New()
		if _, err := io.Copy(hash, tr); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		sums[header.Name] = fmt.Sprintf("sha256:%x", hash.Sum(nil))
	}

	if metadata == nil {
		return nil, fmt.Errorf("archive has no %s", metadataFile)
	}
	for _, db := range metadata.Databases {
		if got := sums[db.Filename]; got != db.Checksum {
			return nil, fmt.Errorf("checksum mismatch for %s: got %q, want %q", db.Filename, got, db.Checksum)
		}
	}
	return metadata, nil
}

// fileChecksum calculates SHA256 checksum of a file
func fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive creates a tar.gz archive of the named files in sourceDir.
func createArchive(archivePath, sourceDir string, filenames []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
