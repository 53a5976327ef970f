// Copyright 2025, the Conseq contributors.

// Package deplete removes reads belonging to host genomes from a
// sample by aligning against each host in turn and keeping only the
// pairs that did not align.
package deplete

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/tools"
	"github.com/conseq-bio/conseq/utils"
)

// Host is one host genome to subtract, identified by its bowtie2
// index prefix.
type Host struct {
	Prefix string
}

func (h Host) Name() string {
	return path.Base(h.Prefix)
}

// Pair is the read-pair state threaded through the depletion fold.
// Each round consumes one Pair and yields the next; no fixed-name
// file is overwritten to transfer state between rounds.
type Pair struct {
	R1 string
	R2 string
}

// Round records the outcome of depleting against one host.
type Round struct {
	Host    string
	Removed int
}

// Summary is the append-only removal log for one depletion run.
type Summary struct {
	Rounds       []Round
	TotalRemoved int
	FinalPairs   int
}

// SummaryFile is the name of the per-run removal log written into the
// working directory, one host<TAB>count line per round in processing
// order.
const SummaryFile = "removal_summary.txt"

// Depleter runs the host-depletion loop for one sample.
type Depleter struct {
	Aligner *bowtie.Aligner
	Timeout time.Duration
	Log     *log.Logger
}

// DiscoverHosts lists the host genomes in a directory of bowtie2
// indexes, in sorted prefix order.  Depletion is order-sensitive, so
// the caller-visible order is the processing order.
func DiscoverHosts(dir string) ([]Host, error) {

	prefixes, err := utils.IndexPrefixes(dir)
	if err != nil {
		return nil, err
	}

	var hosts []Host
	for _, p := range prefixes {
		hosts = append(hosts, Host{Prefix: p})
	}

	return hosts, nil
}

// Deplete folds the read pair over the hosts in the order given.
// Each round aligns the current pair against one host, discards the
// pairs that aligned concordantly, and threads the unaligned pairs
// into the next round.  If a round produces no unaligned output
// files, nothing is left to deplete: empty read files are created and
// the remaining hosts are skipped.  A host whose alignment fails to
// execute aborts the whole run.  The surviving pair is compressed to
// outR1/outR2 and the removal summary is written into workDir.
func (d *Depleter) Deplete(ctx context.Context, r1, r2 string, hosts []Host, workDir, outR1, outR2 string) (Summary, error) {

	if err := utils.CheckInputs(r1, r2); err != nil {
		return Summary{}, err
	}
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return Summary{}, err
	}

	// Materialize the input pair as plain FASTQ in the working
	// directory so every round and the final count see the same
	// representation.
	sample := utils.SampleName(r1)
	cur := Pair{
		R1: path.Join(workDir, sample+"_1.fastq"),
		R2: path.Join(workDir, sample+"_2.fastq"),
	}
	if err := utils.CopyPlain(r1, cur.R1); err != nil {
		return Summary{}, errors.Wrap(err, "deplete: stage R1")
	}
	if err := utils.CopyPlain(r2, cur.R2); err != nil {
		return Summary{}, errors.Wrap(err, "deplete: stage R2")
	}

	var sum Summary

	for _, h := range hosts {
		base := h.Name()
		unmapped := path.Join(workDir, base+"_unmapped")
		mapped := path.Join(workDir, base+"_mapped")

		runCtx, cancel := tools.RunContext(ctx, d.Timeout)
		stderr, err := d.Aligner.AlignFilter(runCtx, h.Prefix, cur.R1, cur.R2,
			unmapped+".fastq", mapped+".fastq")
		cancel()

		// The raw report is kept for each round, success or not.
		if werr := os.WriteFile(path.Join(workDir, base+"_stats.txt"), []byte(stderr), 0666); werr != nil {
			d.logf("warning: host %s: could not keep bowtie2 report: %v", base, werr)
		}

		if err != nil {
			// Partial summaries are not a usable result; no
			// output compression happens on this path.
			return Summary{}, errors.Wrapf(err, "deplete: host %s", base)
		}

		rep, missing := bowtie.ParseReport(stderr)
		for _, m := range missing {
			d.logf("warning: host %s: no %q line in bowtie2 report, using 0", base, m)
		}

		removed := rep.AlignedOnce + rep.AlignedMulti
		sum.Rounds = append(sum.Rounds, Round{Host: base, Removed: removed})
		sum.TotalRemoved += removed
		d.logf("host %s removed %d read pairs", base, removed)

		next := Pair{R1: unmapped + ".1.fastq", R2: unmapped + ".2.fastq"}
		if !exists(next.R1) || !exists(next.R2) {
			// The aligner emitted no unaligned output, so
			// nothing survives to deplete further.  This is
			// the intended short-circuit, not an error.
			d.logf("host %s left no unaligned reads, stopping", base)
			if err := touchEmpty(next.R1, next.R2); err != nil {
				return Summary{}, errors.Wrap(err, "deplete: create empty outputs")
			}
			cur = next
			break
		}
		cur = next
	}

	if err := utils.GzipFile(cur.R1, outR1); err != nil {
		return Summary{}, errors.Wrap(err, "deplete: compress R1")
	}
	if err := utils.GzipFile(cur.R2, outR2); err != nil {
		return Summary{}, errors.Wrap(err, "deplete: compress R2")
	}

	n, err := utils.CountReads(cur.R1)
	if err != nil {
		return Summary{}, errors.Wrap(err, "deplete: count survivors")
	}
	sum.FinalPairs = n

	if err := writeSummary(workDir, sum); err != nil {
		return Summary{}, err
	}
	d.logf("depletion complete: %d pairs removed, %d pairs remain", sum.TotalRemoved, sum.FinalPairs)

	return sum, nil
}

func writeSummary(workDir string, sum Summary) error {

	fid, err := os.Create(path.Join(workDir, SummaryFile))
	if err != nil {
		return err
	}

	for _, r := range sum.Rounds {
		if _, err := fmt.Fprintf(fid, "%s\t%d\n", r.Host, r.Removed); err != nil {
			fid.Close()
			return err
		}
	}

	return fid.Close()
}

func touchEmpty(paths ...string) error {
	for _, p := range paths {
		if err := os.WriteFile(p, nil, 0666); err != nil {
			return err
		}
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (d *Depleter) logf(format string, args ...interface{}) {
	if d.Log != nil {
		d.Log.Printf(format, args...)
	}
}
