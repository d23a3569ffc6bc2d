// Package vcf reads the header of VCF files, plain or bgzip compressed.
package vcf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/bgzf"
)

// ErrNoHeader is returned when the input ends before the #CHROM line.
var ErrNoHeader = errors.New("vcf: missing #CHROM header line")

// fixedColumns is the number of columns before the samples, FORMAT
// included.
const fixedColumns = 9

// Header holds the parts of a VCF header the sample index cares about.
type Header struct {
	FileFormat string
	Samples    []string
	Filters    []string // IDs of ##FILTER lines
	Info       []string // IDs of ##INFO lines
	Format     []string // IDs of ##FORMAT lines
	Contigs    []string
}

// ReadHeaderFile reads the header of the VCF at path. Files ending in
// ".gz" or ".bgz" are read through bgzf.
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Header{}, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".bgz") {
		bg, err := bgzf.NewReader(f, 1)
		if err != nil {
			return Header{}, fmt.Errorf("vcf: %s: %w", path, err)
		}
		defer func() { _ = bg.Close() }()
		r = bg
	}
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ReadHeader reads meta lines up to and including the #CHROM line.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		switch {
		case bytes.HasPrefix(line, []byte("##")):
			h.meta(string(line[2:]))
		case bytes.HasPrefix(line, []byte("#CHROM")):
			cols := strings.Split(string(line), "\t")
			if len(cols) > fixedColumns {
				h.Samples = cols[fixedColumns:]
			}
			return h, nil
		case len(line) > 0:
			return h, ErrNoHeader
		}
		if err == io.EOF {
			return h, ErrNoHeader
		}
		if err != nil {
			return h, err
		}
	}
}

func (h *Header) meta(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	if key == "fileformat" {
		h.FileFormat = value
		return
	}
	id := metaID(value)
	if id == "" {
		return
	}
	switch key {
	case "FILTER":
		h.Filters = append(h.Filters, id)
	case "INFO":
		h.Info = append(h.Info, id)
	case "FORMAT":
		h.Format = append(h.Format, id)
	case "contig":
		h.Contigs = append(h.Contigs, id)
	}
}

// metaID extracts ID from a structured value such as "<ID=DP,Number=1>".
func metaID(value string) string {
	if !strings.HasPrefix(value, "<") {
		return ""
	}
	for field := range strings.SplitSeq(strings.Trim(value, "<>"), ",") {
		if id, ok := strings.CutPrefix(field, "ID="); ok {
			return id
		}
	}
	return ""
}
