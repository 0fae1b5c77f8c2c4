package main

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// migrationFilenameRegex enforces the naming standard for migration files:
// 001_migration_name.up.sql / 001_migration_name.down.sql. Files that do not
// conform are ignored rather than applied out of order.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// MigrationSet wraps a filesystem of *.sql migration files and validates
	// it before the runner is allowed to touch the database: every file must
	// conform to the naming standard, every up must have a down, sequence
	// numbers must start at 001 with no gaps, and file contents must not
	// change between validations (checksum manifest).
	//
	// The migrations shipped in the binary are embedded with go:embed, so a
	// deployed migrator needs no external files.
	MigrationSet struct {
		fsys      fs.FS
		checksums map[string]string // filename -> SHA-256, recorded on first Validate
	}

	// MigrationFile is one migration filename parsed into its components.
	MigrationFile struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewMigrationSet returns a MigrationSet over the given filesystem. Passing
// nil selects the migrations embedded in this binary.
func NewMigrationSet(fsys fs.FS) *MigrationSet {
	if fsys == nil {
		fsys = embeddedMigrations
	}

	return &MigrationSet{
		fsys:      fsys,
		checksums: make(map[string]string),
	}
}

// FS exposes the underlying filesystem for use as a golang-migrate source.
func (s *MigrationSet) FS() fs.FS {
	return s.fsys
}

// List returns the conforming migration filenames in lexicographic order.
// Non-conforming files are filtered out, never applied.
func (s *MigrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	// Lexicographic order matches sequence order under the naming standard.
	sort.Strings(files)

	return files, nil
}

// Files returns the conforming migrations parsed into their components,
// ordered by sequence.
func (s *MigrationSet) Files() ([]MigrationFile, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	files := make([]MigrationFile, 0, len(names))

	for _, name := range names {
		file, err := parseMigrationFilename(name)
		if err != nil {
			return nil, err // unreachable: List only returns conforming names
		}

		files = append(files, file)
	}

	return files, nil
}

// Content returns the raw bytes of one migration file.
func (s *MigrationSet) Content(filename string) ([]byte, error) {
	return fs.ReadFile(s.fsys, filename)
}

// MaxSequence returns the highest sequence number in the set, or 0 when the
// set is empty or unreadable.
func (s *MigrationSet) MaxSequence() int {
	files, err := s.Files()
	if err != nil {
		return 0
	}

	maxSeq := 0

	for _, file := range files {
		if file.Sequence > maxSeq {
			maxSeq = file.Sequence
		}
	}

	return maxSeq
}

// Validate checks the whole set: at least one migration, complete up/down
// pairs, a gapless sequence starting at 001, and unchanged content since the
// previous Validate call. The first call records the checksum manifest;
// later calls compare against it.
func (s *MigrationSet) Validate() error {
	files, err := s.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	if err := s.validatePairing(files); err != nil {
		return err
	}

	if err := s.validateSequence(files); err != nil {
		return err
	}

	return s.verifyChecksums(files)
}

// validatePairing ensures every sequence_name has both an up and a down file.
func (s *MigrationSet) validatePairing(files []MigrationFile) error {
	directions := make(map[string]map[string]bool)

	for _, file := range files {
		key := fmt.Sprintf("%03d_%s", file.Sequence, file.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][file.Direction] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 and have no gaps.
func (s *MigrationSet) validateSequence(files []MigrationFile) error {
	seen := make(map[int]bool)

	for _, file := range files {
		seen[file.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

// verifyChecksums compares file contents against the recorded manifest and
// records checksums for files seen for the first time. A mismatch means a
// migration was edited after it was validated, which is never safe.
func (s *MigrationSet) verifyChecksums(files []MigrationFile) error {
	for _, file := range files {
		content, err := s.Content(file.Filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file.Filename, err)
		}

		sum := fmt.Sprintf("%x", sha256.Sum256(content))

		if recorded, ok := s.checksums[file.Filename]; ok && recorded != sum {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file.Filename)
		}

		s.checksums[file.Filename] = sum
	}

	return nil
}

// parseMigrationFilename splits a conforming filename into its components.
func parseMigrationFilename(filename string) (MigrationFile, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return MigrationFile{}, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return MigrationFile{}, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return MigrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}
