// Copyright 2025, the Conseq contributors.

// Conseq turns directories of paired-end sequencing reads into
// per-sample consensus assemblies and host-depleted read sets by
// driving bowtie2, samtools and bcftools.
//
// For every sample found in the data directory (as
// {sample}_R1.fastq.gz / {sample}_R2.fastq.gz), Conseq first strips
// reads mapping to the host genomes, then scores the candidate
// references by overall alignment rate, realigns against the best
// one, calls variants and derives a consensus sequence.  The
// published artifacts are {out}/assembly/{sample}.fasta, .bam and
// .bam.bai plus {out}/clean_reads/{sample}_R{1,2}.fastq.gz.
//
// Conseq can be invoked either using a configuration file in JSON
// format, or using command-line flags.  A typical invocation using
// flags is:
//
// conseq --DataDir=reads --OutDir=results --RefDir=refs --HostDir=hosts
//    --Threads=4 --MaxSampleProcs=2
//
// To use a JSON config file, create a file with the flag information
// in JSON format, then provide its path when invoking Conseq, e.g.
//
// conseq --ConfigFileName=config.json
//
// See utils/config.go for the full set of configuration parameters.
//
// Intermediate files are placed in per-sample working directories
// under a generated conseq_tmp/###### location; log files go to
// conseq_logs/######.  Samples share nothing, so several are
// processed concurrently up to MaxSampleProcs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"

	"github.com/conseq-bio/conseq/assembly"
	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/deplete"
	"github.com/conseq-bio/conseq/utils"
)

var (
	config *utils.Config

	logger *log.Logger
)

func handleArgs() {

	ConfigFileName := flag.String("ConfigFileName", "", "JSON file containing configuration parameters")
	DataDir := flag.String("DataDir", "", "Directory containing {sample}_R1/_R2.fastq.gz read files")
	OutDir := flag.String("OutDir", "", "Directory where output files are written")
	RefDir := flag.String("RefDir", "", "Directory of candidate reference bowtie2 indexes (+ .fasta)")
	HostDir := flag.String("HostDir", "", "Directory of host genome bowtie2 indexes")
	Threads := flag.Int("Threads", 0, "Threads passed to each external tool")
	MaxSampleProcs := flag.Int("MaxSampleProcs", 0, "Number of samples processed concurrently")
	TempDir := flag.String("TempDir", "", "Workspace for temporary files")
	LogDir := flag.String("LogDir", "", "Directory for log files")
	ToolTimeoutSec := flag.Int("ToolTimeoutSec", 0, "Kill external tools running longer than this many seconds")
	NoCleanTemp := flag.Bool("NoCleanTemp", false, "Do not delete temporary files from TempDir")
	CPUProfile := flag.Bool("CPUProfile", false, "Capture CPU profile data")

	flag.Parse()

	if *ConfigFileName != "" {
		config = utils.ReadConfig(*ConfigFileName)
	} else {
		config = new(utils.Config)
	}

	if *DataDir != "" {
		config.DataDir = *DataDir
	}
	if *OutDir != "" {
		config.OutDir = *OutDir
	}
	if *RefDir != "" {
		config.RefDir = *RefDir
	}
	if *HostDir != "" {
		config.HostDir = *HostDir
	}
	if *Threads != 0 {
		config.Threads = *Threads
	}
	if *MaxSampleProcs != 0 {
		config.MaxSampleProcs = *MaxSampleProcs
	}
	if *TempDir != "" {
		config.TempDir = *TempDir
	}
	if *LogDir != "" {
		config.LogDir = *LogDir
	}
	if *ToolTimeoutSec != 0 {
		config.ToolTimeoutSec = *ToolTimeoutSec
	}
	if *NoCleanTemp {
		config.NoCleanTemp = true
	}
	if *CPUProfile {
		config.CPUProfile = true
	}
}

func checkArgs() {

	if config.DataDir == "" {
		os.Stderr.WriteString("\nDataDir not provided, run 'conseq --help' for more information.\n\n")
		os.Exit(1)
	}
	if config.OutDir == "" {
		os.Stderr.WriteString("\nOutDir not provided, run 'conseq --help' for more information.\n\n")
		os.Exit(1)
	}
	if config.RefDir == "" {
		os.Stderr.WriteString("\nRefDir not provided, run 'conseq --help' for more information.\n\n")
		os.Exit(1)
	}
	if config.HostDir == "" {
		os.Stderr.WriteString("HostDir not provided, host depletion will be skipped\n")
	}
	if config.Threads == 0 {
		// warning not needed
		config.Threads = 1
	}
	if config.MaxSampleProcs == 0 {
		os.Stderr.WriteString("MaxSampleProcs not provided, defaulting to 1\n")
		config.MaxSampleProcs = 1
	}
}

// makeTemp creates the directories for temporary and log files, tied
// together by a unique run id.
func makeTemp() {

	xuid, err := uuid.NewUUID()
	if err != nil {
		log.Fatal(err)
	}
	uid := xuid.String()

	if config.TempDir == "" {
		config.TempDir = path.Join("conseq_tmp", uid)
	} else {
		// Overwrite the provided TempDir with a subdirectory.
		config.TempDir = path.Join(config.TempDir, uid)
	}
	if err := os.MkdirAll(config.TempDir, os.ModePerm); err != nil {
		log.Fatal(err)
	}

	if config.LogDir == "" {
		config.LogDir = "conseq_logs"
	}
	config.LogDir = path.Join(config.LogDir, uid)
	if err := os.MkdirAll(config.LogDir, os.ModePerm); err != nil {
		log.Fatal(err)
	}
}

func cleanTmp() {

	if config.NoCleanTemp {
		return
	}

	if err := os.RemoveAll(config.TempDir); err != nil {
		logger.Print(err)
	}
}

// saveConfig saves the configuration in JSON format into the log
// directory for provenance.
func saveConfig() {

	fid, err := os.Create(path.Join(config.LogDir, "config.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer fid.Close()
	enc := json.NewEncoder(fid)
	if err := enc.Encode(config); err != nil {
		log.Fatal(err)
	}
}

// runSample processes one sample end to end: host depletion (when a
// host directory is configured) followed by reference selection and
// consensus assembly.  Every sample works in its own directories, so
// samples share no mutable state.
func runSample(ctx context.Context, sample string, hosts []deplete.Host, candidates []assembly.Candidate) error {

	utils.Progress(fmt.Sprintf("Processing sample %s...", sample))

	slog, err := utils.SetupLog(config.LogDir, sample)
	if err != nil {
		return err
	}

	aligner, err := bowtie.New(config.Threads)
	if err != nil {
		return err
	}
	timeout := time.Duration(config.ToolTimeoutSec) * time.Second

	r1, r2 := utils.PairPaths(config.DataDir, sample)

	if len(hosts) > 0 {
		workDir := path.Join(config.TempDir, "host_removal", sample)
		cleanDir := path.Join(config.OutDir, "clean_reads")
		if err := os.MkdirAll(cleanDir, os.ModePerm); err != nil {
			return err
		}
		outR1 := path.Join(cleanDir, sample+"_R1.fastq.gz")
		outR2 := path.Join(cleanDir, sample+"_R2.fastq.gz")

		d := &deplete.Depleter{Aligner: aligner, Timeout: timeout, Log: slog}
		sum, err := d.Deplete(ctx, r1, r2, hosts, workDir, outR1, outR2)
		if err != nil {
			return err
		}

		// The summary is part of the sample's durable output.
		if err := utils.CopyFile(path.Join(workDir, deplete.SummaryFile),
			path.Join(cleanDir, sample+"_"+deplete.SummaryFile)); err != nil {
			return err
		}

		slog.Printf("sample %s: depletion removed %d pairs, %d remain", sample, sum.TotalRemoved, sum.FinalPairs)
		r1, r2 = outR1, outR2
	}

	sel := &assembly.Selector{
		Aligner:  aligner,
		TempRoot: config.TempDir,
		Timeout:  timeout,
		Log:      slog,
	}
	selection, err := sel.Select(ctx, candidates, r1, r2)
	if err != nil {
		return err
	}

	builder, err := assembly.NewBuilder(aligner, config.Threads, config.TempDir, slog)
	if err != nil {
		return err
	}
	builder.Timeout = timeout

	set, err := builder.Build(ctx, selection.Ref, r1, r2, config.OutDir, sample)
	if err != nil {
		return err
	}

	utils.Progress(fmt.Sprintf("Sample %s done: %s", sample, set.ConsensusFasta))

	return nil
}

func main() {

	handleArgs()
	checkArgs()
	makeTemp()
	defer cleanTmp()

	// The logger is not available until after makeTemp runs.
	var err error
	logger, err = utils.SetupLog(config.LogDir, "conseq")
	if err != nil {
		log.Fatal(err)
	}

	logger.Print("Starting saveConfig...")
	saveConfig()

	if config.CPUProfile {
		defer profile.Start(profile.ProfilePath(config.LogDir)).Stop()
	}

	samples, err := utils.SampleNames(config.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	if len(samples) == 0 {
		os.Stderr.WriteString(fmt.Sprintf("no *_R1.fastq.gz files found in %s\n", config.DataDir))
		os.Exit(1)
	}

	candidates, err := assembly.DiscoverCandidates(config.RefDir)
	if err != nil {
		log.Fatal(err)
	}

	var hosts []deplete.Host
	if config.HostDir != "" {
		hosts, err = deplete.DiscoverHosts(config.HostDir)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger.Printf("Processing %d samples with %d hosts and %d candidate references...",
		len(samples), len(hosts), len(candidates))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(config.MaxSampleProcs)
	for _, sample := range samples {
		sample := sample
		g.Go(func() error {
			if err := runSample(ctx, sample, hosts, candidates); err != nil {
				logger.Printf("sample %s: %v", sample, err)
				return fmt.Errorf("sample %s: %w", sample, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cleanTmp()
		log.Fatal(err)
	}

	utils.Progress("Pipeline completed successfully.")
}
