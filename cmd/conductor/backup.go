package main

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/store"
)

// Archive sections. Every entry of a backup lives under one of them.
const (
	sectionStore     = "store"
	sectionMemory    = "memory"
	sectionWorkflows = "workflows"
)

var sections = []string{sectionStore, sectionMemory, sectionWorkflows}

// sectionDirs maps each archive section to its directory on disk.
func sectionDirs(cfg *config.Config) map[string]string {
	return map[string]string{
		sectionStore:     filepath.Dir(cfg.Store.Path),
		sectionMemory:    cfg.Workflow.MemoryDir,
		sectionWorkflows: cfg.Workflow.Dir,
	}
}

type backupCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	output string
}

func newBackupCommand(root *rootCommand, app *kingpin.Application) *backupCommand {
	c := &backupCommand{root: root}
	c.Cmd = app.Command("backup", "Write the swarm store, session records and workflows to a tar.zst archive.")
	c.Cmd.Flag("file", "Output archive.").Short('f').Required().StringVar(&c.output)
	return c
}

func (c *backupCommand) Name() string { return c.Cmd.FullCommand() }

func (c *backupCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The live database may be written by a running serve process, so the
	// archive gets a VACUUM INTO snapshot instead of the file itself.
	snapDir, err := os.MkdirTemp("", "conductor-backup-")
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(snapDir)

	if err := snapshotStore(ctx, cfg.Store, filepath.Join(snapDir, filepath.Base(cfg.Store.Path))); err != nil {
		return err
	}

	dirs := sectionDirs(cfg)
	dirs[sectionStore] = snapDir

	files, err := writeArchive(c.output, dirs)
	if err != nil {
		return err
	}

	var size int64
	if info, err := os.Stat(c.output); err == nil {
		size = info.Size()
	}
	fmt.Fprintf(c.root.Stdout, "Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

func snapshotStore(ctx context.Context, cfg config.StoreConfig, dst string) error {
	s, err := store.New(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer s.Close()
	if err := s.Backup(ctx, dst); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	return nil
}

// writeArchive writes the contents of each section directory under its
// section name and returns the number of regular files written. Missing
// directories are skipped.
func writeArchive(outputPath string, dirs map[string]string) (int, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	files := 0
	for _, section := range sections {
		dir, ok := dirs[section]
		if !ok || dir == "" {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			slog.Warn("backup section missing, skipping", "section", section, "dir", dir)
			continue
		}
		slog.Info("backing up section", "section", section, "dir", dir)
		n, err := addDir(tw, section, dir)
		if err != nil {
			return files, fmt.Errorf("backup %s: %w", section, err)
		}
		files += n
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return files, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return files, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return files, fmt.Errorf("close file: %w", err)
	}
	return files, nil
}

func addDir(tw *tar.Writer, section, dir string) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(section, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
		files++
		return nil
	})
	return files, err
}

type restoreCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	input     string
	overwrite bool
}

func newRestoreCommand(root *rootCommand, app *kingpin.Application) *restoreCommand {
	c := &restoreCommand{root: root}
	c.Cmd = app.Command("restore", "Restore an archive written by backup. Stop serve first.")
	c.Cmd.Flag("file", "Input archive.").Short('f').Required().StringVar(&c.input)
	c.Cmd.Flag("overwrite", "Replace files that already exist.").BoolVar(&c.overwrite)
	return c
}

func (c *restoreCommand) Name() string { return c.Cmd.FullCommand() }

func (c *restoreCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	files, err := restoreArchive(c.input, sectionDirs(cfg), c.overwrite)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.root.Stdout, "Restore complete: %d files\n", files)
	return nil
}

// restoreArchive extracts an archive into the section directories. Without
// overwrite it refuses to replace any existing file and writes nothing.
func restoreArchive(inputPath string, dirs map[string]string, overwrite bool) (int, error) {
	entries, err := scanArchive(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(entries) == 0 {
		slog.Warn("archive contains no files")
		return 0, nil
	}

	for _, e := range entries {
		dir, ok := dirs[e.section]
		if !ok {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(e.rel))
		if _, err := os.Stat(dst); err == nil && !overwrite {
			return 0, fmt.Errorf("%s already exists, add --overwrite to replace files", dst)
		}
	}

	// A restored database must not be paired with a stale WAL.
	for _, e := range entries {
		if dir, ok := dirs[e.section]; ok && e.section == sectionStore {
			dst := filepath.Join(dir, filepath.FromSlash(e.rel))
			_ = os.Remove(dst + "-wal")
			_ = os.Remove(dst + "-shm")
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, fmt.Errorf("read tar entry: %w", err)
		}

		section, rel := splitSectionPath(hdr.Name)
		dir, ok := dirs[section]
		if section == "" || !ok {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return files, fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, dst, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files++
		}
	}

	slog.Info("archive restored", "files", files)
	return files, nil
}

func extractFile(r io.Reader, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}

type archiveEntry struct {
	section string
	rel     string
}

// scanArchive reads the tar headers of regular files without extracting
// their data.
func scanArchive(path string) ([]archiveEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	var entries []archiveEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		section, rel := splitSectionPath(hdr.Name)
		if section != "" {
			entries = append(entries, archiveEntry{section: section, rel: rel})
		}
	}
	return entries, nil
}

// splitSectionPath splits "memory/session-ab12.json" into ("memory",
// "session-ab12.json"). Unknown sections and paths escaping their section
// return an empty section.
func splitSectionPath(name string) (section, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	section, rel, _ = strings.Cut(name, "/")
	if !slices.Contains(sections, section) {
		return "", ""
	}

	rel = strings.TrimSuffix(rel, "/")
	if rel == "" {
		return section, "."
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", ""
	}
	return section, path.Clean(rel)
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
