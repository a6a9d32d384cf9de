package walog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nexuslite/nexuslite/nxlog"
)

const (
	magic      = "NXWL"
	headerSize = 8 // magic(4) + version(4)
	version    = 1
)

// Log is the on-disk append log backing a WASP engine's ".wasp" WAL
// region. Append, Truncate and Size serialize on one internal mutex.
type Log struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	offset int64
}

// Open creates or opens the WAL file at path.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}

	l := &Log{file: file, path: path}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if stat.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		l.offset = headerSize
	} else {
		if err := l.validateHeader(); err != nil {
			file.Close()
			return nil, err
		}
		l.offset = stat.Size()
	}
	return l, nil
}

func (l *Log) writeHeader() error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], version)
	_, err := l.file.WriteAt(buf, 0)
	return err
}

func (l *Log) validateHeader() error {
	buf := make([]byte, headerSize)
	if _, err := l.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("walog: read header: %w", err)
	}
	if string(buf[0:4]) != magic {
		return fmt.Errorf("walog: bad magic %q", buf[0:4])
	}
	return nil
}

// Append writes a single record without fsyncing; callers that need
// durability call Sync (or use a Batcher for group commit).
func (l *Log) Append(r Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	encoded := r.encode()
	off := l.offset
	if _, err := l.file.WriteAt(encoded, off); err != nil {
		return 0, fmt.Errorf("walog: append: %w", err)
	}
	l.offset += int64(len(encoded))
	return off, nil
}

// Sync fsyncs the WAL file; per invariant I5 this must happen before the
// manifest pointer flip that publishes the records just appended.
func (l *Log) Sync() error {
	return l.file.Sync()
}

// Replay scans forward from the start of the log (past the header) and
// returns every well-formed record. The first malformed or truncated
// record stops the scan silently (tail torn write, spec.md §4.2/§7); the
// caller's logger is used to record that the tail was discarded.
func Replay(path string, log *nxlog.DatabaseLogger) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(file, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, err
	}
	if string(header[0:4]) != magic {
		return nil, fmt.Errorf("walog: bad magic %q", header[0:4])
	}

	var records []Record
	offset := int64(headerSize)
	for {
		lenBuf := make([]byte, 4)
		if _, err := file.ReadAt(lenBuf, offset); err != nil {
			break // EOF: clean end of log
		}
		total := binary.BigEndian.Uint32(lenBuf)
		if total == 0 || total > 64*1024*1024 {
			logTornTail(log, offset)
			break
		}

		body := make([]byte, total)
		if _, err := file.ReadAt(body, offset+4); err != nil {
			logTornTail(log, offset)
			break
		}

		r, err := decodeBody(body)
		if err != nil {
			logTornTail(log, offset)
			break
		}

		records = append(records, r)
		offset += 4 + int64(total)
	}

	return records, nil
}

func logTornTail(log *nxlog.DatabaseLogger, offset int64) {
	if log == nil {
		return
	}
	log.WithComponent("walog").Warn().Int64("offset", offset).Msg("discarding torn WAL tail")
}

// Truncate discards all records (called after a successful checkpoint,
// spec.md §4.7 checkpoint()).
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if err := l.writeHeader(); err != nil {
		return err
	}
	l.offset = headerSize
	return nil
}

// Size reports the current WAL file size in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// Close fsyncs and closes the WAL file.
func (l *Log) Close() error {
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
