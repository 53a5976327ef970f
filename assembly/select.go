// Copyright 2025, the Conseq contributors.

// Package assembly chooses the best-matching reference for a sample
// and derives a reference-guided consensus assembly from it.
package assembly

import (
	"context"
	"log"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/tools"
	"github.com/conseq-bio/conseq/utils"
)

// Candidate is one indexed reference genome a sample's reads might
// belong to.  Prefix is the bowtie2 index prefix; Prefix+".fasta"
// must exist next to the index for variant calling.
type Candidate struct {
	Prefix string
}

func (c Candidate) Name() string {
	return path.Base(c.Prefix)
}

func (c Candidate) Fasta() string {
	return c.Prefix + ".fasta"
}

// Selection is the outcome of scoring the candidates for one sample.
type Selection struct {
	Ref  Candidate
	Rate float64
}

// ErrNoCandidates indicates an empty candidate list, a caller error
// detected before any process is spawned.
var ErrNoCandidates = errors.New("assembly: no candidate references supplied")

// Selector scores each candidate reference by overall alignment rate.
type Selector struct {
	Aligner  *bowtie.Aligner
	TempRoot string
	Timeout  time.Duration
	Log      *log.Logger
}

// DiscoverCandidates lists the candidate references in a directory of
// bowtie2 indexes, in sorted prefix order.
func DiscoverCandidates(dir string) ([]Candidate, error) {

	prefixes, err := utils.IndexPrefixes(dir)
	if err != nil {
		return nil, err
	}

	var cands []Candidate
	for _, p := range prefixes {
		cands = append(cands, Candidate{Prefix: p})
	}

	return cands, nil
}

// Select aligns the read pair against every candidate in the order
// supplied and returns the first candidate achieving the highest
// overall alignment rate.  The comparison is strictly greater-than: a
// later candidate with an equal rate does not displace the incumbent,
// which keeps the selection reproducible under reruns.  A candidate
// whose alignment completes with a low or zero rate is merely
// non-competitive; an alignment that fails to execute aborts the
// selection.
func (s *Selector) Select(ctx context.Context, candidates []Candidate, r1, r2 string) (Selection, error) {

	if len(candidates) == 0 {
		return Selection{}, ErrNoCandidates
	}
	if err := utils.CheckInputs(r1, r2); err != nil {
		return Selection{}, err
	}

	scratch, err := utils.MakeScratch(s.TempRoot, "best_ref")
	if err != nil {
		return Selection{}, err
	}
	defer os.RemoveAll(scratch)

	// The best-rate accumulator starts below zero so that a first
	// candidate scoring 0.0% is still selected.
	best := Selection{Rate: -1}

	for _, cand := range candidates {
		base := cand.Name()
		samOut := path.Join(scratch, base+".sam")

		runCtx, cancel := tools.RunContext(ctx, s.Timeout)
		stderr, err := s.Aligner.AlignSAM(runCtx, cand.Prefix, r1, r2, samOut)
		cancel()

		// The raw report is kept alongside the scratch SAM for
		// troubleshooting a failed run.
		if werr := os.WriteFile(path.Join(scratch, base+".bowtie2.log"), []byte(stderr), 0666); werr != nil {
			s.logf("warning: reference %s: could not keep bowtie2 report: %v", base, werr)
		}

		if err != nil {
			return Selection{}, errors.Wrapf(err, "assembly: scoring reference %s", base)
		}

		rep, missing := bowtie.ParseReport(stderr)
		for _, m := range missing {
			s.logf("warning: reference %s: no %q line in bowtie2 report, using 0", base, m)
		}
		s.logf("reference %s: %.2f%% overall alignment", base, rep.OverallRate)

		if rep.OverallRate > best.Rate {
			best = Selection{Ref: cand, Rate: rep.OverallRate}
		}
	}

	s.logf("best reference %s with %.2f%% alignment", best.Ref.Name(), best.Rate)

	return best, nil
}

func (s *Selector) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
