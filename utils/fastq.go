// Copyright 2025, the Conseq contributors.

package utils

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Reads scans the records of a FASTQ file, transparently
// decompressing gzip input.
type Reads struct {
	file    *os.File
	gz      *gzip.Reader
	scanner *bufio.Scanner
	Name    string
	Seq     string
}

func NewReads(fastqfile string) (*Reads, error) {

	inf, err := os.Open(fastqfile)
	if err != nil {
		return nil, err
	}

	r := &Reads{file: inf}

	var rdr io.Reader = inf
	if strings.HasSuffix(fastqfile, ".gz") {
		gz, err := gzip.NewReader(inf)
		if err != nil {
			inf.Close()
			return nil, err
		}
		r.gz = gz
		rdr = gz
	}

	scanner := bufio.NewScanner(rdr)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	r.scanner = scanner

	return r, nil
}

// Next advances to the next four-line FASTQ record, returning false
// at end of input.  Input ending inside a record is reported as an
// error, not as a clean end.
func (r *Reads) Next() (bool, error) {

	for j := 0; j < 4; j++ {

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return false, err
			}
			if j > 0 {
				return false, errors.Errorf("fastq: truncated record at end of %s", r.file.Name())
			}
			return false, nil
		}

		switch j % 4 {
		case 0:
			r.Name = r.scanner.Text()
		case 1:
			r.Seq = r.scanner.Text()
		}
	}

	return true, nil
}

func (r *Reads) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

// CountReads returns the number of FASTQ records in the file.
func CountReads(fastqfile string) (int, error) {

	rdr, err := NewReads(fastqfile)
	if err != nil {
		return 0, err
	}
	defer rdr.Close()

	n := 0
	for {
		ok, err := rdr.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}

	return n, nil
}

// CopyPlain copies a read file to dst, decompressing gzip input so
// that dst is always plain FASTQ.
func CopyPlain(src, dst string) error {

	inf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer inf.Close()

	var rdr io.Reader = inf
	if strings.HasSuffix(src, ".gz") {
		gz, err := gzip.NewReader(inf)
		if err != nil {
			return err
		}
		defer gz.Close()
		rdr = gz
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rdr); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// GzipFile compresses src to dst.
func GzipFile(src, dst string) error {

	inf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer inf.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, inf); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// CopyFile copies src to dst byte for byte.
func CopyFile(src, dst string) error {

	inf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer inf.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, inf); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
