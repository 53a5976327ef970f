// Copyright 2025, the Conseq contributors.

package assembly

import (
	"context"
	"log"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/tools"
	"github.com/conseq-bio/conseq/utils"
)

// ArtifactSet names the three published outputs of a consensus build.
// They are only ever published together; a consensus without its BAM
// (or vice versa) means the build failed.
type ArtifactSet struct {
	ConsensusFasta string
	SortedBAM      string
	BAMIndex       string
}

// IncompleteOutputError reports a tool that exited zero without
// producing the file the next step needs.
type IncompleteOutputError struct {
	Step string
	Path string
}

func (e *IncompleteOutputError) Error() string {
	return "assembly: step " + e.Step + " did not produce " + e.Path
}

// Builder realigns a sample against its selected reference, calls
// variants, and derives a consensus sequence.
type Builder struct {
	Aligner  *bowtie.Aligner
	samtools string
	bcftools string
	Threads  int
	TempRoot string
	Timeout  time.Duration
	Log      *log.Logger
}

// NewBuilder resolves the samtools and bcftools executables.
func NewBuilder(aligner *bowtie.Aligner, threads int, tempRoot string, logger *log.Logger) (*Builder, error) {

	st, err := tools.Samtools()
	if err != nil {
		return nil, err
	}
	bt, err := tools.Bcftools()
	if err != nil {
		return nil, err
	}
	if threads < 1 {
		threads = 1
	}

	return &Builder{
		Aligner:  aligner,
		samtools: st,
		bcftools: bt,
		Threads:  threads,
		TempRoot: tempRoot,
		Log:      logger,
	}, nil
}

// Build runs the consensus pipeline against the selected reference:
// realign, sort and index the alignment, call variants, apply them to
// the reference, then publish {sample}.fasta, {sample}.bam and
// {sample}.bam.bai under outDir/assembly.  Any step failing aborts
// the build before anything is published; the scratch area is removed
// on every path.
func (b *Builder) Build(ctx context.Context, ref Candidate, r1, r2, outDir, sample string) (ArtifactSet, error) {

	if err := utils.CheckInputs(r1, r2, ref.Fasta()); err != nil {
		return ArtifactSet{}, err
	}

	scratch, err := utils.MakeScratch(b.TempRoot, "consensus")
	if err != nil {
		return ArtifactSet{}, err
	}
	defer os.RemoveAll(scratch)

	sam := path.Join(scratch, "best_alignment.sam")
	bam := path.Join(scratch, "best_alignment.bam")
	sorted := path.Join(scratch, "best_alignment.sorted.bam")
	vcf := path.Join(scratch, "variants.vcf.gz")
	consensus := path.Join(scratch, sample+".fasta")

	// Fresh alignment against the chosen reference; the scoring
	// run's SAM is not reused.
	b.logf("aligning %s against %s", sample, ref.Name())
	runCtx, cancel := tools.RunContext(ctx, b.Timeout)
	_, err = b.Aligner.AlignSAM(runCtx, ref.Prefix, r1, r2, sam)
	cancel()
	if err != nil {
		return ArtifactSet{}, errors.Wrap(err, "assembly: align")
	}
	if _, err := os.Stat(sam); err != nil {
		return ArtifactSet{}, &IncompleteOutputError{Step: "align", Path: sam}
	}

	if err := b.toFile(ctx, "view", bam, tools.Cmd{
		Tool: b.samtools,
		Args: []string{"view", "-bS", sam},
	}); err != nil {
		return ArtifactSet{}, err
	}

	if err := b.step(ctx, "sort", sorted, tools.Cmd{
		Tool: b.samtools,
		Args: []string{"sort", bam, "-o", sorted},
	}); err != nil {
		return ArtifactSet{}, err
	}

	if err := b.step(ctx, "index", sorted+".bai", tools.Cmd{
		Tool: b.samtools,
		Args: []string{"index", sorted},
	}); err != nil {
		return ArtifactSet{}, err
	}

	// mpileup and call are joined by a pipe; call writes the
	// compressed variant set itself.
	b.logf("calling variants for %s", sample)
	runCtx, cancel = tools.RunContext(ctx, b.Timeout)
	_, err = tools.RunPipe(runCtx,
		tools.Cmd{
			Tool: b.bcftools,
			Args: []string{"mpileup", "--threads", strconv.Itoa(b.Threads), "-f", ref.Fasta(), sorted},
		},
		tools.Cmd{
			Tool: b.bcftools,
			Args: []string{"call", "-mv", "-Oz", "-o", vcf},
		})
	cancel()
	if err != nil {
		return ArtifactSet{}, errors.Wrap(err, "assembly: call")
	}
	if _, err := os.Stat(vcf); err != nil {
		return ArtifactSet{}, &IncompleteOutputError{Step: "call", Path: vcf}
	}

	if err := b.step(ctx, "index-vcf", vcf+".csi", tools.Cmd{
		Tool: b.bcftools,
		Args: []string{"index", vcf},
	}); err != nil {
		return ArtifactSet{}, err
	}

	if err := b.toFile(ctx, "consensus", consensus, tools.Cmd{
		Tool: b.bcftools,
		Args: []string{"consensus", "-f", ref.Fasta(), vcf},
	}); err != nil {
		return ArtifactSet{}, err
	}

	// Publish the artifact set by copying, so the scratch copies
	// can be cleaned up independently.
	assemblyDir := path.Join(outDir, "assembly")
	if err := os.MkdirAll(assemblyDir, os.ModePerm); err != nil {
		return ArtifactSet{}, err
	}

	set := ArtifactSet{
		ConsensusFasta: path.Join(assemblyDir, sample+".fasta"),
		SortedBAM:      path.Join(assemblyDir, sample+".bam"),
		BAMIndex:       path.Join(assemblyDir, sample+".bam.bai"),
	}

	if err := utils.CopyFile(consensus, set.ConsensusFasta); err != nil {
		return ArtifactSet{}, errors.Wrap(err, "assembly: publish consensus")
	}
	if err := utils.CopyFile(sorted, set.SortedBAM); err != nil {
		return ArtifactSet{}, errors.Wrap(err, "assembly: publish bam")
	}
	if err := utils.CopyFile(sorted+".bai", set.BAMIndex); err != nil {
		return ArtifactSet{}, errors.Wrap(err, "assembly: publish bai")
	}

	b.logf("published consensus for %s under %s", sample, assemblyDir)

	return set, nil
}

// step runs one tool invocation and, if want is nonempty, confirms
// the expected output file exists afterwards.
func (b *Builder) step(ctx context.Context, name, want string, c tools.Cmd) error {

	runCtx, cancel := tools.RunContext(ctx, b.Timeout)
	defer cancel()

	if _, err := tools.Run(runCtx, c); err != nil {
		return errors.Wrapf(err, "assembly: %s", name)
	}
	if want != "" {
		if _, err := os.Stat(want); err != nil {
			return &IncompleteOutputError{Step: name, Path: want}
		}
	}
	return nil
}

// toFile runs one tool invocation streaming its stdout into out.
func (b *Builder) toFile(ctx context.Context, name, out string, c tools.Cmd) error {

	fid, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "assembly: %s", name)
	}

	c.Stdout = fid

	runCtx, cancel := tools.RunContext(ctx, b.Timeout)
	defer cancel()

	_, runErr := tools.Run(runCtx, c)
	closeErr := fid.Close()
	if runErr != nil {
		return errors.Wrapf(runErr, "assembly: %s", name)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "assembly: %s", name)
	}
	return nil
}

func (b *Builder) logf(format string, args ...interface{}) {
	if b.Log != nil {
		b.Log.Printf(format, args...)
	}
}
