// Package backup snapshots the returns table to zip archives and restores from them
package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/models"
)

const (
	namePrefix      = "portfolio_data_backup_"
	timestampLayout = "20060102_150405"

	DataFile     = "asset_returns.csv"
	MetadataFile = "metadata.json"
	SummaryFile  = "summary.txt"
)

// maxEntryBytes bounds a single extracted archive entry.
const maxEntryBytes = 512 << 20

var (
	// ErrNotFound is returned when the archive to restore does not exist.
	ErrNotFound = errors.New("backup not found")
	// ErrChecksumMismatch is returned when the data file does not match metadata.json.
	ErrChecksumMismatch = errors.New("backup checksum mismatch")

	archivePattern = regexp.MustCompile(`^portfolio_data_backup_(\d{8}_\d{6})(?:_\d+)?\.zip$`)
)

// Manager implements backup, restore and listing over a ReturnStore.
type Manager struct {
	store  interfaces.ReturnStore
	dir    string
	logger *common.Logger
	now    func() time.Time
}

// NewManager creates a Manager writing archives to dir.
func NewManager(store interfaces.ReturnStore, dir string, logger *common.Logger) *Manager {
	return &Manager{
		store:  store,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Dir returns the archive directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Backup reads every row and writes portfolio_data_backup_<ts>.zip into the
// archive directory, or <ts>_N.zip when that name is taken. The staging
// directory is removed on every path.
func (m *Manager) Backup(ctx context.Context) (*models.BackupInfo, error) {
	rows, err := m.store.SelectAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(rows) == 0 {
		m.logger.Warn().Msg("Store is empty, writing an empty backup")
	}

	now := m.now()
	ts := now.Format(timestampLayout)

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	out, archive, err := reserveArchive(m.dir, ts)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	staging, err := os.MkdirTemp(m.dir, strings.TrimSuffix(filepath.Base(archive), ".zip")+"_")
	if err != nil {
		out.Close()
		os.Remove(archive)
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	var data bytes.Buffer
	if err := WriteRecords(&data, rows); err != nil {
		out.Close()
		os.Remove(archive)
		return nil, fmt.Errorf("encode csv: %w", err)
	}

	meta := buildMetadata(rows, now)
	meta.Checksum = checksum(data.Bytes())

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		out.Close()
		os.Remove(archive)
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	files := []struct {
		name string
		body []byte
	}{
		{DataFile, data.Bytes()},
		{MetadataFile, metaJSON},
		{SummaryFile, []byte(summaryText(rows, meta, now))},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.name), f.body, 0644); err != nil {
			out.Close()
			os.Remove(archive)
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	err = zipDir(staging, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(archive)
		return nil, fmt.Errorf("create archive: %w", err)
	}

	st, err := os.Stat(archive)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	m.logger.Info().
		Str("archive", archive).
		Int("rows", meta.TotalRows).
		Int("assets", meta.UniqueAssets).
		Int64("bytes", st.Size()).
		Msg("Backup created")

	return &models.BackupInfo{
		Filename:  filepath.Base(archive),
		Path:      archive,
		Timestamp: ts,
		Size:      st.Size(),
		Created:   st.ModTime(),
	}, nil
}

// Restore replaces the entire table with the contents of archive.
// Existing rows are deleted before the archived rows are uploaded.
func (m *Manager) Restore(ctx context.Context, archive string) (*models.RestoreResult, error) {
	if _, err := os.Stat(archive); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, archive)
		}
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	tmp, err := os.MkdirTemp("", "pfreturns_restore_*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := unzip(archive, tmp); err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}

	result := &models.RestoreResult{Archive: archive}

	if raw, err := os.ReadFile(filepath.Join(tmp, MetadataFile)); err == nil {
		var meta models.BackupMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		result.Metadata = &meta
		m.logger.Info().Int("rows", meta.TotalRows).Int("assets", meta.UniqueAssets).Msg("Backup metadata loaded")
	}

	data, err := os.ReadFile(filepath.Join(tmp, DataFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", DataFile, err)
	}
	if result.Metadata != nil && result.Metadata.Checksum != "" {
		if got := checksum(data); got != result.Metadata.Checksum {
			return nil, fmt.Errorf("%w: metadata %s, data %s", ErrChecksumMismatch, result.Metadata.Checksum, got)
		}
	}

	rows, err := ReadRecords(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", DataFile, err)
	}
	result.RowsLoaded = len(rows)

	m.logger.Warn().Int("rows", len(rows)).Msg("Restore is destructive, clearing existing data")
	if err := m.store.DeleteAll(ctx); err != nil {
		return result, fmt.Errorf("clear store: %w", err)
	}

	written, err := m.store.Upsert(ctx, rows)
	result.RowsUploaded = written
	if err != nil {
		return result, fmt.Errorf("upload restored rows: %w", err)
	}

	m.logger.Info().Int("rows", written).Str("archive", archive).Msg("Restore complete")
	return result, nil
}

// List returns archives in the backup directory, newest first.
// A missing directory yields no backups.
func (m *Manager) List() ([]models.BackupInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var out []models.BackupInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := archivePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.BackupInfo{
			Filename:  e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			Timestamp: match[1],
			Size:      info.Size(),
			Created:   info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		if len(out[i].Filename) != len(out[j].Filename) {
			return len(out[i].Filename) > len(out[j].Filename)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

func buildMetadata(rows []models.ReturnRecord, now time.Time) models.BackupMetadata {
	meta := models.BackupMetadata{
		BackupTimestamp: now.Format(timestampLayout),
		BackupDate:      now.Format(time.RFC3339),
		TotalRows:       len(rows),
		Assets:          []string{},
		Columns:         models.Columns,
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		if !seen[r.AssetTicker] {
			seen[r.AssetTicker] = true
			meta.Assets = append(meta.Assets, r.AssetTicker)
		}
		if meta.DateRange.Start == "" || r.ReturnDate < meta.DateRange.Start {
			meta.DateRange.Start = r.ReturnDate
		}
		if r.ReturnDate > meta.DateRange.End {
			meta.DateRange.End = r.ReturnDate
		}
	}
	sort.Strings(meta.Assets)
	meta.UniqueAssets = len(meta.Assets)
	return meta
}

func summaryText(rows []models.ReturnRecord, meta models.BackupMetadata, now time.Time) string {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.AssetTicker]++
	}

	var b strings.Builder
	b.WriteString("PORTFOLIO DATA BACKUP SUMMARY\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Backup Date: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Rows: %d\n", meta.TotalRows)
	fmt.Fprintf(&b, "Unique Assets: %d\n", meta.UniqueAssets)
	fmt.Fprintf(&b, "Date Range: %s to %s\n", meta.DateRange.Start, meta.DateRange.End)
	fmt.Fprintf(&b, "Checksum: %s\n", meta.Checksum)
	b.WriteString("\nAssets:\n")
	for _, a := range meta.Assets {
		fmt.Fprintf(&b, "  %s: %d rows\n", a, counts[a])
	}
	return b.String()
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// reserveArchive creates the archive file exclusively. A second backup in the
// same second gets a _1, _2, ... suffix instead of overwriting the first.
func reserveArchive(dir, ts string) (*os.File, string, error) {
	for seq := 0; seq < 1000; seq++ {
		name := namePrefix + ts
		if seq > 0 {
			name += "_" + strconv.Itoa(seq)
		}
		path := filepath.Join(dir, name+".zip")
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("too many backups for %s", ts)
}

func zipDir(src string, out io.Writer) error {
	zw := zip.NewWriter(out)
	entries, err := os.ReadDir(src)
	if err != nil {
		zw.Close()
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addFile(zw, filepath.Join(src, e.Name()), e.Name()); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// unzip extracts flat archive entries into dst. Entries with path components are rejected.
func unzip(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Clean(f.Name)
		if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			return fmt.Errorf("unsafe archive entry %q", f.Name)
		}
		if err := extractFile(f, filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxEntryBytes {
		err = errors.New("entry too large")
	}
	return err
}
