// Copyright 2025, the Conseq contributors.

package utils

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	r1Suffix = "_R1.fastq.gz"
	r2Suffix = "_R2.fastq.gz"
)

// SampleName derives the sample name from an R1 read file path.
func SampleName(r1 string) string {
	return strings.TrimSuffix(path.Base(r1), r1Suffix)
}

// SampleNames returns the sample names found in a directory of raw
// read files, in sorted order.
func SampleNames(dir string) ([]string, error) {

	m, err := filepath.Glob(filepath.Join(dir, "*"+r1Suffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(m)

	var names []string
	for _, f := range m {
		names = append(names, SampleName(f))
	}

	return names, nil
}

// PairPaths returns the R1/R2 read file paths for a sample.
func PairPaths(dir, sample string) (string, string) {
	return path.Join(dir, sample+r1Suffix), path.Join(dir, sample+r2Suffix)
}

// IndexPrefixes returns the bowtie2 index prefixes found in a
// directory, identified by their *.1.bt2 files, in sorted order.
// The {prefix}.rev.1.bt2 reverse-index files belong to the same
// index and are not prefixes of their own.
func IndexPrefixes(dir string) ([]string, error) {

	m, err := filepath.Glob(filepath.Join(dir, "*.1.bt2"))
	if err != nil {
		return nil, err
	}
	sort.Strings(m)

	var prefixes []string
	for _, f := range m {
		if strings.HasSuffix(f, ".rev.1.bt2") {
			continue
		}
		prefixes = append(prefixes, strings.TrimSuffix(f, ".1.bt2"))
	}

	return prefixes, nil
}
