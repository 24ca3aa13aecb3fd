package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// LogFile is a rotating log file. Lines written before Open are discarded.
type LogFile struct {
	rotator *rotator.Rotator

	// pipe feeds the rotator's run loop. Once the loop fails the read end
	// is closed with its error so writers never block.
	pipe *io.PipeWriter

	done   chan struct{}
	runErr error
}

// NewLogFile returns a log file that is not yet backed by anything.
func NewLogFile() *LogFile {
	return &LogFile{}
}

// newCompressor returns the rotator compressor for the named algorithm and the
// suffix of the files it produces.
func newCompressor(name string) (rotator.Compressor, string, error) {
	suffix, ok := logCompressors[name]
	if !ok {
		return nil, "", fmt.Errorf("unknown log compressor: %v", name)
	}

	switch name {
	case Zstd:
		c, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, "", fmt.Errorf("zstd compressor: %w", err)
		}

		return c, suffix, nil

	default:
		return gzip.NewWriter(nil), suffix, nil
	}
}

// Open creates dir if needed and starts rotating into dir/name. It must be
// paired with Close.
func (f *LogFile) Open(cfg *FileLoggerConfig, dir, name string) error {
	if f.rotator != nil {
		return errors.New("log file already open")
	}

	compressor, suffix, err := newCompressor(cfg.Compressor)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		filepath.Join(dir, name), int64(cfg.MaxLogFileSize*1024), false,
		cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.SetCompressor(compressor, suffix)

	pr, pw := io.Pipe()
	f.rotator = r
	f.pipe = pw
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)

		err := r.Run(pr)
		if err == nil || errors.Is(err, io.EOF) {
			return
		}

		f.runErr = err
		_ = pr.CloseWithError(err)
		_, _ = fmt.Fprintf(os.Stderr, "log file rotation stopped: %v\n",
			err)
	}()

	return nil
}

// Write hands b to the rotator.
func (f *LogFile) Write(b []byte) (int, error) {
	if f.pipe == nil {
		return len(b), nil
	}

	return f.pipe.Write(b)
}

// Close flushes pending lines and closes the current log file. It returns the
// error that stopped rotation early, if any.
func (f *LogFile) Close() error {
	if f.rotator == nil {
		return nil
	}

	_ = f.pipe.Close()
	<-f.done

	return errors.Join(f.runErr, f.rotator.Close())
}
