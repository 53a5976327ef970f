// Copyright 2025, the Conseq contributors.

// conseq_assembly builds a reference-guided consensus assembly for
// one sample.  It is the assembly stage of the Conseq pipeline
// exposed as a standalone unit of work: paths in, paths out, nonzero
// exit on failure.
//
// A typical invocation is:
//
// conseq_assembly --references refs/refA,refs/refB --r1 sample_R1.fastq.gz
//    --r2 sample_R2.fastq.gz --folder out/ --threads 4
//
// Each reference is a bowtie2 index prefix with a {prefix}.fasta next
// to it.  Alternatively --refdir scans a directory for indexes.  The
// outputs land in {folder}/assembly/{sample}.fasta, .bam and .bam.bai.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/conseq-bio/conseq/assembly"
	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/utils"
)

func main() {

	references := flag.String("references", "", "Comma-separated bowtie2 index prefixes (each must also have prefix.fasta)")
	refDir := flag.String("refdir", "", "Directory scanned for bowtie2 indexes, used when --references is empty")
	r1 := flag.String("r1", "", "R1 FASTQ(.gz)")
	r2 := flag.String("r2", "", "R2 FASTQ(.gz)")
	folder := flag.String("folder", "", "Output folder")
	threads := flag.Int("threads", 1, "Threads for bowtie2/bcftools")
	tempDir := flag.String("tempdir", "", "Workspace for temporary files")
	timeout := flag.Int("timeout", 0, "Per-tool timeout in seconds (0 = none)")
	flag.Parse()

	if *r1 == "" || *r2 == "" || *folder == "" {
		os.Stderr.WriteString("\nr1, r2 and folder are required, run 'conseq_assembly --help' for more information.\n\n")
		os.Exit(1)
	}

	var candidates []assembly.Candidate
	if *references != "" {
		for _, p := range strings.Split(*references, ",") {
			p = strings.TrimSuffix(strings.TrimSpace(p), ".1.bt2")
			if p != "" {
				candidates = append(candidates, assembly.Candidate{Prefix: p})
			}
		}
	} else if *refDir != "" {
		var err error
		candidates, err = assembly.DiscoverCandidates(*refDir)
		if err != nil {
			log.Fatal(err)
		}
	}
	if len(candidates) == 0 {
		os.Stderr.WriteString("\nno candidate references supplied, run 'conseq_assembly --help' for more information.\n\n")
		os.Exit(1)
	}

	if err := os.MkdirAll(*folder, os.ModePerm); err != nil {
		log.Fatal(err)
	}
	logger, err := utils.SetupLog(*folder, "conseq_assembly")
	if err != nil {
		log.Fatal(err)
	}

	aligner, err := bowtie.New(*threads)
	if err != nil {
		log.Fatal(err)
	}

	toolTimeout := time.Duration(*timeout) * time.Second
	sample := utils.SampleName(*r1)
	ctx := context.Background()

	utils.Progress("Checking alignment rate for each bowtie2 index prefix...")
	sel := &assembly.Selector{
		Aligner:  aligner,
		TempRoot: *tempDir,
		Timeout:  toolTimeout,
		Log:      logger,
	}
	selection, err := sel.Select(ctx, candidates, *r1, *r2)
	if err != nil {
		logger.Print(err)
		log.Fatal(err)
	}
	utils.Progress(fmt.Sprintf("Best reference prefix: %s with %.2f%% alignment.",
		selection.Ref.Name(), selection.Rate))

	utils.Progress("Performing reference-guided assembly with the best reference...")
	builder, err := assembly.NewBuilder(aligner, *threads, *tempDir, logger)
	if err != nil {
		log.Fatal(err)
	}
	builder.Timeout = toolTimeout

	set, err := builder.Build(ctx, selection.Ref, *r1, *r2, *folder, sample)
	if err != nil {
		logger.Print(err)
		log.Fatal(err)
	}

	utils.Progress("Done.")
	utils.Progress(fmt.Sprintf("Consensus FASTA: %s", set.ConsensusFasta))
	utils.Progress(fmt.Sprintf("BAM: %s", set.SortedBAM))
	utils.Progress(fmt.Sprintf("BAI: %s", set.BAMIndex))
}
