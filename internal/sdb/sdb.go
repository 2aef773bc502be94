// Package sdb implements spec.md §4.10's on-disk snapshot format: a
// magic-framed, SHA-3-hashed dump file wrapping a whole hierarchy, plus
// the dump.sdb symlink/purge bookkeeping around it.
//
// Grounded on internal/hierarchy.Dump/LoadDump for the body and on the
// teacher's internal/security/sri.go for "hash the bytes, compare
// hex-encoded digests" conventions, generalized from SHA-384 to the
// SHA-3-256 digest spec.md names. File IO goes through
// github.com/spf13/afero so tests can swap in an in-memory filesystem;
// the dump.sdb symlink swap uses the stdlib os package directly since
// afero.Fs has no Symlink method, guarded by a github.com/gofrs/flock
// file lock so concurrent saves never interleave the rename.
package sdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/selvadb/selva/internal/hierarchy"
)

const (
	magicStart = "SELVA\x00\x00\x00"
	magicEnd   = "\x00\x00\x00AVLES"
	versionLen = 40
	hashLen    = 32 // len(sha3.Sum256(...))

	// LinkName is the stable name save/load operate through, per spec.md
	// §4.10's "dump.sdb is a symlink to the latest dump file".
	LinkName = "dump.sdb"
)

// ErrBadMagic/ErrBadHash report a corrupt or foreign file (spec.md §7:
// "the load is aborted and the prior in-memory state is retained").
var (
	ErrBadMagic = errors.New("sdb: bad magic header or footer")
	ErrBadHash  = errors.New("sdb: hash mismatch")
)

// header is the fixed-size preamble (spec.md §4.10).
type header struct {
	CreatedWith string
	UpdatedWith string
	LastEID     uint64
}

// Manager owns the dump directory: saving new snapshots, loading them
// back, and retiring old ones.
type Manager struct {
	log *zap.Logger
	fs  afero.Fs
	dir string

	// Version is stamped into created_with/updated_with, matching the
	// reference's "selva vX.Y.Z" compiled-in build string.
	Version string

	// MaxDumps bounds how many dump files Purge retains; 0 disables
	// purging.
	MaxDumps int
}

// NewManager builds a Manager rooted at dir. fs is almost always
// afero.NewOsFs() in production; tests pass afero.NewMemMapFs().
func NewManager(log *zap.Logger, fs afero.Fs, dir, version string, maxDumps int) *Manager {
	return &Manager{log: log, fs: fs, dir: dir, Version: version, MaxDumps: maxDumps}
}

func writeString(buf *bytes.Buffer, s string, width int) error {
	if len(s) > width {
		return errors.Errorf("sdb: %q exceeds %d-byte field", s, width)
	}
	padded := make([]byte, width)
	copy(padded, s)
	_, err := buf.Write(padded)
	return err
}

func readString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// encode serializes the full on-disk layout: magic_start, header,
// body, magic_end, then a trailing SHA-3-256 digest of everything that
// came before it.
func encode(h header, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magicStart)
	if err := writeString(&buf, h.CreatedWith, versionLen); err != nil {
		return nil, err
	}
	if err := writeString(&buf, h.UpdatedWith, versionLen); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, h.LastEID); err != nil {
		return nil, errors.WithStack(err)
	}
	buf.Write(body)
	buf.WriteString(magicEnd)

	sum := sha3.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// decode validates and splits a loaded dump file back into its header,
// body, and the last-applied eid carried alongside it.
func decode(raw []byte) (header, []byte, error) {
	const preambleLen = len(magicStart) + versionLen*2 + 8
	if len(raw) < preambleLen+len(magicEnd)+hashLen {
		return header{}, nil, ErrBadMagic
	}
	if string(raw[:len(magicStart)]) != magicStart {
		return header{}, nil, ErrBadMagic
	}

	footerStart := len(raw) - hashLen - len(magicEnd)
	if string(raw[footerStart:footerStart+len(magicEnd)]) != magicEnd {
		return header{}, nil, ErrBadMagic
	}

	wantSum := raw[len(raw)-hashLen:]
	gotSum := sha3.Sum256(raw[:len(raw)-hashLen])
	if !bytes.Equal(wantSum, gotSum[:]) {
		return header{}, nil, ErrBadHash
	}

	off := len(magicStart)
	createdWith := readString(raw[off : off+versionLen])
	off += versionLen
	updatedWith := readString(raw[off : off+versionLen])
	off += versionLen
	lastEID := binary.BigEndian.Uint64(raw[off : off+8])
	off += 8

	body := raw[off:footerStart]
	return header{CreatedWith: createdWith, UpdatedWith: updatedWith, LastEID: lastEID}, body, nil
}

// Save dumps h to a new timestamped file under Manager's dir, then
// atomically repoints dump.sdb at it (spec.md §4.10: "the save replaces
// dump.sdb only once the new file is fully written and fsynced").
func (m *Manager) Save(h *hierarchy.Hierarchy, lastEID uint64) (path string, err error) {
	body, err := h.Dump()
	if err != nil {
		return "", errors.WithStack(err)
	}

	raw, err := encode(header{CreatedWith: m.Version, UpdatedWith: m.Version, LastEID: lastEID}, body)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("dump-%d.sdb", time.Now().UnixNano())
	full := filepath.Join(m.dir, name)

	if err := afero.WriteFile(m.fs, full, raw, 0o644); err != nil {
		return "", errors.WithStack(err)
	}
	if f, openErr := m.fs.Open(full); openErr == nil {
		if syncer, ok := f.(interface{ Sync() error }); ok {
			_ = syncer.Sync()
		}
		f.Close()
	}

	if err := m.relink(name); err != nil {
		return "", err
	}

	m.log.Info("sdb dump written", zap.String("path", full), zap.Uint64("last_eid", lastEID))
	return full, nil
}

// SaveAs dumps h to an explicit path, bypassing the dump.sdb symlink
// and directory-scoped naming/purge Save applies (spec.md §6's `save`
// command takes an explicit filename rather than always targeting the
// managed dump directory).
func (m *Manager) SaveAs(h *hierarchy.Hierarchy, lastEID uint64, path string) error {
	body, err := h.Dump()
	if err != nil {
		return errors.WithStack(err)
	}
	raw, err := encode(header{CreatedWith: m.Version, UpdatedWith: m.Version, LastEID: lastEID}, body)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(m.fs, path, raw, 0o644); err != nil {
		return errors.WithStack(err)
	}
	m.log.Info("sdb dump written", zap.String("path", path), zap.Uint64("last_eid", lastEID))
	return nil
}

// relink atomically repoints LinkName at name, guarded by a flock so
// concurrent saves/purges never race the symlink swap (spec.md §5's
// single-writer assumption holds for the reactor goroutine, but
// background replication snapshot sends and manual `save` commands can
// still overlap).
func (m *Manager) relink(name string) error {
	lockPath := filepath.Join(m.dir, ".dump.lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return errors.WithStack(err)
	}
	defer fl.Unlock()

	linkPath := filepath.Join(m.dir, LinkName)
	tmp := linkPath + ".tmp"

	if _, ok := m.fs.(*afero.OsFs); !ok {
		// Non-OS filesystems (tests) have no symlink concept; record the
		// current target as a plain file instead so Load still resolves.
		return afero.WriteFile(m.fs, linkPath, []byte(name), 0o644)
	}

	_ = os.Remove(tmp)
	if err := os.Symlink(name, tmp); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Load resolves dump.sdb and restores a Hierarchy from it; LoadPath
// takes an explicit path instead.
func (m *Manager) Load(opts hierarchy.Options) (h *hierarchy.Hierarchy, lastEID uint64, err error) {
	linkPath := filepath.Join(m.dir, LinkName)
	target, err := m.resolveLink(linkPath)
	if err != nil {
		return nil, 0, err
	}
	return m.LoadPath(target, opts)
}

// LoadPath restores a Hierarchy from a specific dump file, bypassing
// the dump.sdb symlink (used by Load and by the commands package's
// explicit-filename load).
func (m *Manager) LoadPath(path string, opts hierarchy.Options) (*hierarchy.Hierarchy, uint64, error) {
	raw, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	hdr, body, err := decode(raw)
	if err != nil {
		return nil, 0, err
	}
	h, err := hierarchy.LoadDump(body, opts)
	if err != nil {
		return nil, 0, err
	}
	m.log.Info("sdb dump loaded", zap.String("path", path), zap.String("created_with", hdr.CreatedWith))
	return h, hdr.LastEID, nil
}

// LoadBytes restores a Hierarchy from an already-in-memory dump,
// bypassing any filesystem: the shape a replication_sdb snapshot
// transfer needs (spec.md §4.9's "initial state sync" sends the dump
// body directly over the wire, never through a file).
func LoadBytes(raw []byte, opts hierarchy.Options) (*hierarchy.Hierarchy, uint64, error) {
	hdr, body, err := decode(raw)
	if err != nil {
		return nil, 0, err
	}
	h, err := hierarchy.LoadDump(body, opts)
	if err != nil {
		return nil, 0, err
	}
	return h, hdr.LastEID, nil
}

func (m *Manager) resolveLink(linkPath string) (string, error) {
	if _, ok := m.fs.(*afero.OsFs); ok {
		target, err := os.Readlink(linkPath)
		if err == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(m.dir, target)
			}
			return target, nil
		}
	}
	raw, err := afero.ReadFile(m.fs, linkPath)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return filepath.Join(m.dir, strings.TrimSpace(string(raw))), nil
}

// Purge deletes dump files beyond MaxDumps, oldest first, keeping
// dump.sdb's current target regardless of age.
func (m *Manager) Purge() error {
	if m.MaxDumps <= 0 {
		return nil
	}
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		return errors.WithStack(err)
	}
	var dumps []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "dump-") && strings.HasSuffix(e.Name(), ".sdb") {
			dumps = append(dumps, e.Name())
		}
	}
	sort.Strings(dumps) // timestamp-suffixed names sort chronologically
	if len(dumps) <= m.MaxDumps {
		return nil
	}
	victims := dumps[:len(dumps)-m.MaxDumps]
	current, _ := m.resolveLink(filepath.Join(m.dir, LinkName))
	for _, name := range victims {
		full := filepath.Join(m.dir, name)
		if full == current {
			continue
		}
		if err := m.fs.Remove(full); err != nil {
			m.log.Warn("sdb purge: failed to remove dump", zap.String("path", full), zap.Error(err))
			continue
		}
		m.log.Info("sdb purge: removed dump", zap.String("path", full))
	}
	return nil
}
