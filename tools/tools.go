// Copyright 2025, the Conseq contributors.

// Package tools runs the external binaries the pipeline delegates to
// and classifies their failures.
package tools

import (
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Find returns the path of the first name resolvable on PATH.  Tools
// are sometimes installed under a capitalized name, so callers pass
// an ordered candidate list.
func Find(names ...string) (string, error) {
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.Errorf("no executable found for %s", strings.Join(names, " or "))
}

func Bowtie2() (string, error) {
	return Find("bowtie2", "Bowtie2")
}

func Samtools() (string, error) {
	return Find("samtools", "Samtools")
}

func Bcftools() (string, error) {
	return Find("bcftools", "Bcftools")
}
