package server

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"go.uber.org/multierr"
)

// resolvePath maps a request filename to a path below root. Leading slashes
// and ".." segments can not climb out of root.
func resolvePath(root, name string) (string, error) {
	cleaned := path.Clean("/" + filepath.ToSlash(name))
	if name == "" || cleaned == "/" {
		return "", fmt.Errorf("%w: %q does not name a file", utils.ErrAccessViolation, name)
	}

	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}

func openForRead(root, name, mode string, netascii bool) (io.ReadCloser, error) {
	p, err := resolvePath(root, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("error while opening file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("error while checking file: %w", err), f.Close())
	}

	if info.IsDir() {
		return nil, multierr.Append(fmt.Errorf("%w: %s is a directory", utils.ErrAccessViolation, name), f.Close())
	}

	if netascii && types.NormalizeMode(mode) == types.ModeNetASCII {
		return encodeNetASCII(f), nil
	}

	return f, nil
}

// openForWrite creates or truncates the destination. Writes are buffered
// and reach the disk on Close.
func openForWrite(root, name, mode string, netascii bool) (io.WriteCloser, error) {
	p, err := resolvePath(root, name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error while opening file: %w", err)
	}

	var sink io.WriteCloser = &bufferedFile{Writer: bufio.NewWriterSize(f, 16*types.MaxPayloadSize), f: f}

	if netascii && types.NormalizeMode(mode) == types.ModeNetASCII {
		sink = decodeNetASCII(sink)
	}

	return sink, nil
}

type bufferedFile struct {
	*bufio.Writer
	f *os.File
}

func (b *bufferedFile) Close() error {
	return multierr.Combine(b.Flush(), b.f.Close())
}
