// Copyright 2025, the Conseq contributors.

// conseq_deplete subtracts host genome reads from one sample.  It is
// the depletion stage of the Conseq pipeline exposed as a standalone
// unit of work: paths in, paths out, nonzero exit on failure.
//
// A typical invocation is:
//
// conseq_deplete --r1 sample_R1.fastq.gz --r2 sample_R2.fastq.gz
//    --out1 clean_R1.fastq.gz --out2 clean_R2.fastq.gz
//    --host host_indexes/ --folder work/ --threads 4
//
// The host directory is scanned for bowtie2 indexes (*.1.bt2); the
// hosts are processed in sorted prefix order.  The working directory
// receives the per-host stats files and removal_summary.txt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/deplete"
	"github.com/conseq-bio/conseq/utils"
)

func main() {

	r1 := flag.String("r1", "", "Input R1 FASTQ(.gz)")
	r2 := flag.String("r2", "", "Input R2 FASTQ(.gz)")
	out1 := flag.String("out1", "", "Output R1 file path")
	out2 := flag.String("out2", "", "Output R2 file path")
	host := flag.String("host", "", "Folder with bowtie2 indexes (*.1.bt2, etc.)")
	folder := flag.String("folder", "", "Working directory")
	threads := flag.Int("threads", 1, "Threads for bowtie2")
	timeout := flag.Int("timeout", 0, "Per-tool timeout in seconds (0 = none)")
	flag.Parse()

	if *r1 == "" || *r2 == "" || *out1 == "" || *out2 == "" || *host == "" || *folder == "" {
		os.Stderr.WriteString("\nr1, r2, out1, out2, host and folder are required, run 'conseq_deplete --help' for more information.\n\n")
		os.Exit(1)
	}

	if err := os.MkdirAll(*folder, os.ModePerm); err != nil {
		log.Fatal(err)
	}
	logger, err := utils.SetupLog(*folder, "conseq_deplete")
	if err != nil {
		log.Fatal(err)
	}

	aligner, err := bowtie.New(*threads)
	if err != nil {
		log.Fatal(err)
	}

	hosts, err := deplete.DiscoverHosts(*host)
	if err != nil {
		log.Fatal(err)
	}

	d := &deplete.Depleter{
		Aligner: aligner,
		Timeout: time.Duration(*timeout) * time.Second,
		Log:     logger,
	}

	utils.Progress("Removing host reads...")
	sum, err := d.Deplete(context.Background(), *r1, *r2, hosts, *folder, *out1, *out2)
	if err != nil {
		logger.Print(err)
		log.Fatal(err)
	}

	utils.Progress("Host removal complete.")
	utils.Progress(fmt.Sprintf("Final unaligned read 1: %s", *out1))
	utils.Progress(fmt.Sprintf("Final unaligned read 2: %s", *out2))
	utils.Progress(fmt.Sprintf("Removed %d read pairs across %d hosts, %d pairs remain.",
		sum.TotalRemoved, len(sum.Rounds), sum.FinalPairs))
}
