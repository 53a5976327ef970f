// Copyright 2025, the Conseq contributors.

package utils

import (
	"encoding/json"
	"os"
)

type Config struct {

	// The directory containing the raw paired-end reads, named
	// {sample}_R1.fastq.gz / {sample}_R2.fastq.gz.
	DataDir string

	// The directory where all pipeline outputs are written.
	OutDir string

	// The directory containing the candidate reference indexes.
	// Each index prefix {ref}.1.bt2 ... must also have {ref}.fasta
	// next to it for variant calling.
	RefDir string

	// The directory containing the host genome indexes used for
	// read depletion.  If blank, depletion is skipped.
	HostDir string

	// The number of threads passed to each external tool.
	Threads int

	// The number of samples processed concurrently.  Each sample
	// gets its own working directory.
	MaxSampleProcs int

	// Use this location to place temporary files.  If blank, a
	// temporary directory of the form conseq_tmp/######## is
	// generated in the local directory.
	TempDir string

	// The directory where log files are written.  By default the
	// logs are placed into conseq_logs/###### in the local
	// directory, where the number matches the prefix of the
	// temporary directory.
	LogDir string

	// Kill any external tool invocation running longer than this
	// many seconds.  Zero means no timeout.
	ToolTimeoutSec int

	// If true, temporary files are not removed upon program
	// completion.
	NoCleanTemp bool

	// If true, capture a CPU profile of the run.
	CPUProfile bool
}

func ReadConfig(filename string) *Config {
	fid, err := os.Open(filename)
	if err != nil {
		panic(err)
	}
	defer fid.Close()
	dec := json.NewDecoder(fid)
	config := new(Config)
	err = dec.Decode(config)
	if err != nil {
		panic(err)
	}

	return config
}
