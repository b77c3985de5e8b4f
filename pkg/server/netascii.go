package server

import (
	"io"

	"go.uber.org/multierr"
	"pack.ag/tftp/netascii"
)

type flusher interface {
	Flush() error
}

// netasciiSource encodes a local file to netascii in a background copy.
type netasciiSource struct {
	*io.PipeReader
	file io.Closer
	done chan struct{}
}

func encodeNetASCII(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	s := &netasciiSource{PipeReader: pr, file: src, done: make(chan struct{})}

	go func() {
		defer close(s.done)

		var w io.Writer = netascii.NewWriter(pw)

		_, err := io.Copy(w, src)
		if f, ok := w.(flusher); ok && err == nil {
			err = f.Flush()
		}

		pw.CloseWithError(err)
	}()

	return s
}

// Close stops the copy if the transfer ended early.
func (s *netasciiSource) Close() error {
	err := s.PipeReader.Close()
	<-s.done

	return multierr.Append(err, s.file.Close())
}

// netasciiSink decodes netascii written to it into dst.
type netasciiSink struct {
	*io.PipeWriter
	dst  io.Closer
	done chan error
}

func decodeNetASCII(dst io.WriteCloser) io.WriteCloser {
	pr, pw := io.Pipe()
	s := &netasciiSink{PipeWriter: pw, dst: dst, done: make(chan error, 1)}

	go func() {
		_, err := io.Copy(dst, netascii.NewReader(pr))
		pr.CloseWithError(err)
		s.done <- err
	}()

	return s
}

func (s *netasciiSink) Close() error {
	err := s.PipeWriter.Close()

	return multierr.Combine(err, <-s.done, s.dst.Close())
}
