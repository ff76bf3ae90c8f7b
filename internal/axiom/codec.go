package axiom

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/axiom/internal/ir"
)

// Header is the first record of an export.
type Header struct {
	Format        string  `json:"format"`
	KernelVersion string  `json:"kernel_version"`
	HostID        string  `json:"host_id"`
	Commits       int     `json:"commits"`
	Head          ir.Hash `json:"head"`
}

// NewHeader describes commits exported by host.
func NewHeader(hostID string, commits []Commit) Header {
	h := Header{
		Format:        ir.FormatVersion,
		KernelVersion: ir.KernelVersion,
		HostID:        hostID,
		Commits:       len(commits),
	}
	if len(commits) > 0 {
		h.Head = commits[len(commits)-1].ID
	}
	return h
}

// MalformedCommitError reports the first commit of an import that could
// not be decoded. The commits before it are returned alongside.
type MalformedCommitError struct {
	Seq uint64
	Err error
}

func (e *MalformedCommitError) Error() string {
	return fmt.Sprintf("malformed commit at seq %d: %v", e.Seq, e.Err)
}

func (e *MalformedCommitError) Unwrap() error { return e.Err }

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Export writes h followed by one commit per line. With compress the
// whole stream is a zstd frame.
func Export(w io.Writer, h Header, commits []Commit, compress bool) (err error) {
	out := w
	if compress {
		zw, zerr := zstd.NewWriter(w)
		if zerr != nil {
			return fmt.Errorf("zstd writer: %w", zerr)
		}
		defer func() {
			if cerr := zw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("zstd close: %w", cerr)
			}
		}()
		out = zw
	}

	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, c := range commits {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode commit %d: %w", c.Seq, err)
		}
	}
	return bw.Flush()
}

// Import reads an export written by Export, detecting compression from
// the stream's first bytes.
//
// Decoding stops at the first malformed commit: the valid prefix is
// returned together with a *MalformedCommitError. A commit whose seq is
// not its position counts as malformed. Ids and links are not checked
// here; run VerifyChain on the result.
func Import(r io.Reader) (Header, []Commit, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return Header{}, nil, fmt.Errorf("read export: %w", err)
	}

	var in io.Reader = br
	if bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return Header{}, nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, nil, fmt.Errorf("read header: %w", err)
		}
		return Header{}, nil, errors.New("export is empty")
	}
	var h Header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		return Header{}, nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Format != ir.FormatVersion {
		return h, nil, fmt.Errorf("unsupported export format %q", h.Format)
	}

	var commits []Commit
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		seq := uint64(len(commits))
		var c Commit
		if err := json.Unmarshal(line, &c); err != nil {
			return h, commits, &MalformedCommitError{Seq: seq, Err: err}
		}
		if c.Seq != seq {
			return h, commits, &MalformedCommitError{Seq: seq, Err: fmt.Errorf("record carries seq %d", c.Seq)}
		}
		commits = append(commits, c)
	}
	if err := scanner.Err(); err != nil {
		return h, commits, &MalformedCommitError{Seq: uint64(len(commits)), Err: err}
	}
	return h, commits, nil
}
