// Copyright 2025, the Conseq contributors.

// Package bowtie provides functionality for running bowtie2 on
// paired-end reads and parsing the run statistics it reports on its
// error stream.
package bowtie

import (
	"context"
	"io"
	"strconv"

	"github.com/conseq-bio/conseq/tools"
)

// Aligner invokes bowtie2 against pre-built index prefixes.
type Aligner struct {
	Path    string
	Threads int
}

// New resolves the bowtie2 executable and returns an Aligner using
// the given thread count.
func New(threads int) (*Aligner, error) {
	p, err := tools.Bowtie2()
	if err != nil {
		return nil, err
	}
	if threads < 1 {
		threads = 1
	}
	return &Aligner{Path: p, Threads: threads}, nil
}

// AlignSAM aligns the read pair against the index prefix with the
// --very-sensitive preset, writing SAM to samOut.  The returned
// string is bowtie2's stderr, which carries the run statistics.
func (a *Aligner) AlignSAM(ctx context.Context, index, r1, r2, samOut string) (string, error) {

	args := []string{
		"-x", index,
		"-p", strconv.Itoa(a.Threads),
		"-1", r1,
		"-2", r2,
		"--very-sensitive",
		"-S", samOut,
	}

	res, err := tools.Run(ctx, tools.Cmd{Tool: a.Path, Args: args})
	return res.Stderr, err
}

// AlignFilter aligns the read pair against a host index prefix in
// end-to-end high-sensitivity mode, splitting the pairs into two
// output streams: pairs that aligned concordantly (mappedTpl) and
// pairs that did not (unmappedTpl).  The templates are bowtie2
// --un-conc/--al-conc arguments; for a template {p}.fastq the tool
// writes {p}.1.fastq and {p}.2.fastq.  The returned string is
// bowtie2's stderr; the SAM stream bowtie2 writes to stdout is not
// wanted here and is discarded rather than buffered.
func (a *Aligner) AlignFilter(ctx context.Context, index, r1, r2, unmappedTpl, mappedTpl string) (string, error) {

	args := []string{
		"-x", index,
		"-1", r1,
		"-2", r2,
		"-p", strconv.Itoa(a.Threads),
		"--end-to-end",
		"--very-sensitive",
		"--un-conc", unmappedTpl,
		"--al-conc", mappedTpl,
	}

	res, err := tools.Run(ctx, tools.Cmd{Tool: a.Path, Args: args, Stdout: io.Discard})
	return res.Stderr, err
}
