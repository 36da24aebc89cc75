package spool

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

const (
	recordHeaderLen = 12
	logName         = "spool.log"
	metaName        = "spool.meta"
)

// FileSpool is an append-only log of undelivered envelopes. Entries are
// framed as [8 id][4 len][json]; the committed watermark lives in a side
// file so a restart resumes after the last confirmed delivery.
type FileSpool struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.SpoolEntryID
	committed ports.SpoolEntryID
	sizeBytes int64
}

func Open(dir string) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileSpool{
		dir:      dir,
		path:     filepath.Join(dir, logName),
		metaPath: filepath.Join(dir, metaName),
	}
	if err := s.openLog(); err != nil {
		return nil, err
	}
	if err := s.bootstrap(); err != nil {
		_ = s.file.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSpool) openLog() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.writer = bufio.NewWriterSize(f, 64<<10)
	return nil
}

func (s *FileSpool) bootstrap() error {
	if err := s.scanExisting(); err != nil {
		return err
	}
	if err := s.loadCommitted(); err != nil {
		return err
	}
	// Ids stay monotonic across truncation.
	if s.nextID < s.committed {
		s.nextID = s.committed
	}
	_, err := s.file.Seek(0, io.SeekEnd)
	return err
}

// scanExisting finds the last complete entry and cuts off a torn tail.
func (s *FileSpool) scanExisting() error {
	rf, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		reader = bufio.NewReader(rf)
		offset int64
		lastID ports.SpoolEntryID
	)
	for {
		id, body, err := readEntry(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("spool scan: %w", err)
		}
		offset += recordHeaderLen + int64(len(body))
		lastID = id
	}

	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	s.sizeBytes = offset
	s.nextID = lastID
	return nil
}

func (s *FileSpool) loadCommitted() error {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("spool meta parse: %w", err)
	}
	s.committed = ports.SpoolEntryID(u)
	return nil
}

// Append writes e and flushes it to the file before returning.
func (s *FileSpool) Append(e domain.Envelope) (ports.SpoolEntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	id := s.nextID + 1
	if err := writeEntry(s.writer, id, b); err != nil {
		return 0, err
	}
	if err := s.writer.Flush(); err != nil {
		return 0, err
	}
	s.nextID = id
	s.sizeBytes += int64(recordHeaderLen + len(b))
	return id, nil
}

// Iterate calls fn for every entry with id >= from, in append order. The
// entries are read under the lock and fn runs without it, so fn may Commit.
func (s *FileSpool) Iterate(from ports.SpoolEntryID, fn func(id ports.SpoolEntryID, e domain.Envelope) error) error {
	type entry struct {
		id ports.SpoolEntryID
		e  domain.Envelope
	}

	s.mu.Lock()
	var entries []entry
	err := s.scanLocked(func(id ports.SpoolEntryID, body []byte) error {
		if id < from {
			return nil
		}
		var e domain.Envelope
		if err := json.Unmarshal(body, &e); err != nil {
			return fmt.Errorf("corrupt spool entry %d: %w", id, err)
		}
		entries = append(entries, entry{id: id, e: e})
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, en := range entries {
		if err := fn(en.id, en.e); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSpool) scanLocked(fn func(id ports.SpoolEntryID, body []byte) error) error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		id, body, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt spool: %w", err)
		}
		if err := fn(id, body); err != nil {
			return err
		}
	}
}

// Commit marks every entry up to and including upto as delivered.
func (s *FileSpool) Commit(upto ports.SpoolEntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upto <= s.committed {
		return nil
	}
	s.committed = upto
	return s.persistMetaLocked()
}

// TruncateCommitted rewrites the log without the committed prefix.
func (s *FileSpool) TruncateCommitted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed == 0 || s.sizeBytes == 0 {
		return nil
	}
	if s.committed >= s.nextID {
		if err := s.writer.Flush(); err != nil {
			return err
		}
		if err := s.file.Truncate(0); err != nil {
			return err
		}
		s.sizeBytes = 0
		return nil
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	var (
		tw   = bufio.NewWriter(tmp)
		size int64
	)
	err = s.scanLocked(func(id ports.SpoolEntryID, body []byte) error {
		if id <= s.committed {
			return nil
		}
		size += recordHeaderLen + int64(len(body))
		return writeEntry(tw, id, body)
	})
	if err == nil {
		err = tw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	if err := s.openLog(); err != nil {
		return err
	}
	s.sizeBytes = size
	return nil
}

func (s *FileSpool) Stats() ports.SpoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.SpoolStats{
		OldestUncommitted: s.committed + 1,
		LatestAppended:    s.nextID,
		SizeBytes:         s.sizeBytes,
	}
}

func (s *FileSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.writer.Flush()
	err = errors.Join(err, s.file.Close())
	s.file = nil
	return err
}

func (s *FileSpool) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", s.committed))
	return os.WriteFile(s.metaPath, data, 0o644)
}

func writeEntry(w io.Writer, id ports.SpoolEntryID, body []byte) error {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readEntry returns io.EOF on a clean end and io.ErrUnexpectedEOF on a torn
// entry.
func readEntry(r io.Reader) (ports.SpoolEntryID, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	id := ports.SpoolEntryID(binary.BigEndian.Uint64(hdr[0:8]))
	body := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return id, body, nil
}

var _ ports.Spool = (*FileSpool)(nil)
