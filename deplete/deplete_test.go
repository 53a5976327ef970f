// Copyright 2025, the Conseq contributors.

package deplete

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conseq-bio/conseq/bowtie"
	"github.com/conseq-bio/conseq/tools"
	"github.com/conseq-bio/conseq/utils"
)

// fakeBowtie2Filter mimics the --un-conc/--al-conc invocation shape.
// Host H1 removes 30 of 1000 pairs, H2 removes 20 of the remaining
// 970, HX maps everything that reaches it and writes no unaligned
// output, HF fails outright.  Visits are recorded in $BT2_VISITS.
const fakeBowtie2Filter = `#!/bin/sh
idx=""; un=""
while [ $# -gt 0 ]; do
  case "$1" in
    -x) idx="$2"; shift 2;;
    --un-conc) un="$2"; shift 2;;
    *) shift;;
  esac
done
base=$(basename "$idx")
if [ -n "$BT2_VISITS" ]; then
  echo "$base" >> "$BT2_VISITS"
fi
total=1000; once=0; multi=0; n=0
case "$base" in
  H1) once=20; multi=10; n=970;;
  H2) total=970; once=15; multi=5; n=950;;
  HX) total=970; once=970; multi=0; n=0;;
  HF) echo "segfault" >&2; exit 11;;
esac
if [ "$n" -gt 0 ]; then
  p="${un%.fastq}"
  awk -v n="$n" 'BEGIN{for(i=0;i<n;i++){print "@r" i; print "ACGT"; print "+"; print "IIII"}}' > "$p.1.fastq"
  awk -v n="$n" 'BEGIN{for(i=0;i<n;i++){print "@r" i; print "TTTT"; print "+"; print "IIII"}}' > "$p.2.fastq"
fi
zero=$((total-once-multi))
cat >&2 <<EOF
$total reads; of these:
  $total (100.00%) were paired; of these:
    $zero aligned concordantly 0 times
    $once aligned exactly 1 time
    $multi aligned >1 times
0.00% overall alignment rate
EOF
`

func installTool(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path.Join(dir, name), []byte(script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writePair(t *testing.T, dir string) (string, string) {
	t.Helper()
	r1 := path.Join(dir, "sampleX_R1.fastq.gz")
	r2 := path.Join(dir, "sampleX_R2.fastq.gz")
	fq := path.Join(dir, "tmp.fastq")
	require.NoError(t, os.WriteFile(fq, []byte("@r0\nACGT\n+\nIIII\n"), 0666))
	require.NoError(t, utils.GzipFile(fq, r1))
	require.NoError(t, utils.GzipFile(fq, r2))
	return r1, r2
}

func newTestDepleter(t *testing.T) *Depleter {
	t.Helper()

	bin := t.TempDir()
	installTool(t, bin, "bowtie2", fakeBowtie2Filter)

	aligner, err := bowtie.New(1)
	require.NoError(t, err)

	return &Depleter{Aligner: aligner}
}

func TestDepleteAccumulatesRemovals(t *testing.T) {

	d := newTestDepleter(t)
	r1, r2 := writePair(t, t.TempDir())
	workDir := t.TempDir()
	outDir := t.TempDir()
	outR1 := path.Join(outDir, "clean_R1.fastq.gz")
	outR2 := path.Join(outDir, "clean_R2.fastq.gz")

	hosts := []Host{{Prefix: "/hosts/H1"}, {Prefix: "/hosts/H2"}}
	sum, err := d.Deplete(context.Background(), r1, r2, hosts, workDir, outR1, outR2)
	require.NoError(t, err)

	assert.Equal(t, []Round{{Host: "H1", Removed: 30}, {Host: "H2", Removed: 20}}, sum.Rounds)
	assert.Equal(t, 50, sum.TotalRemoved)
	assert.Equal(t, 950, sum.FinalPairs)

	// removed-so-far plus remaining equals the original pair count.
	assert.Equal(t, 1000, sum.TotalRemoved+sum.FinalPairs)

	// The compressed outputs hold the surviving pairs.
	n, err := utils.CountReads(outR1)
	require.NoError(t, err)
	assert.Equal(t, 950, n)
	n, err = utils.CountReads(outR2)
	require.NoError(t, err)
	assert.Equal(t, 950, n)

	// Per-round stats files are kept for troubleshooting.
	assert.FileExists(t, path.Join(workDir, "H1_stats.txt"))
	assert.FileExists(t, path.Join(workDir, "H2_stats.txt"))

	got, err := os.ReadFile(path.Join(workDir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "H1\t30\nH2\t20\n", string(got))
}

func TestDepleteWarnsWhenStatsFileUnwritable(t *testing.T) {

	d := newTestDepleter(t)
	var buf bytes.Buffer
	d.Log = log.New(&buf, "", 0)

	r1, r2 := writePair(t, t.TempDir())
	workDir := t.TempDir()

	// A directory squatting on the stats path makes the write fail;
	// the round itself must still complete.
	require.NoError(t, os.Mkdir(path.Join(workDir, "H1_stats.txt"), os.ModePerm))

	outDir := t.TempDir()
	sum, err := d.Deplete(context.Background(), r1, r2, []Host{{Prefix: "/hosts/H1"}},
		workDir, path.Join(outDir, "c1.fastq.gz"), path.Join(outDir, "c2.fastq.gz"))
	require.NoError(t, err)

	assert.Equal(t, 30, sum.TotalRemoved)
	assert.Contains(t, buf.String(), "could not keep bowtie2 report")
}

func TestDepleteVisitsHostsInSuppliedOrder(t *testing.T) {

	d := newTestDepleter(t)
	r1, r2 := writePair(t, t.TempDir())

	visits := path.Join(t.TempDir(), "visits.txt")
	t.Setenv("BT2_VISITS", visits)

	outDir := t.TempDir()
	hosts := []Host{{Prefix: "/hosts/H2"}, {Prefix: "/hosts/H1"}}
	_, err := d.Deplete(context.Background(), r1, r2, hosts, t.TempDir(),
		path.Join(outDir, "c1.fastq.gz"), path.Join(outDir, "c2.fastq.gz"))
	require.NoError(t, err)

	got, err := os.ReadFile(visits)
	require.NoError(t, err)
	assert.Equal(t, "H2\nH1\n", string(got))
}

func TestDepleteStopsEarlyWhenNothingSurvives(t *testing.T) {

	d := newTestDepleter(t)
	r1, r2 := writePair(t, t.TempDir())
	workDir := t.TempDir()

	visits := path.Join(t.TempDir(), "visits.txt")
	t.Setenv("BT2_VISITS", visits)

	outDir := t.TempDir()
	outR1 := path.Join(outDir, "clean_R1.fastq.gz")
	outR2 := path.Join(outDir, "clean_R2.fastq.gz")

	// HX maps everything; H2 must never run.
	hosts := []Host{{Prefix: "/hosts/H1"}, {Prefix: "/hosts/HX"}, {Prefix: "/hosts/H2"}}
	sum, err := d.Deplete(context.Background(), r1, r2, hosts, workDir, outR1, outR2)
	require.NoError(t, err)

	assert.Equal(t, []Round{{Host: "H1", Removed: 30}, {Host: "HX", Removed: 970}}, sum.Rounds)
	assert.Equal(t, 1000, sum.TotalRemoved)
	assert.Equal(t, 0, sum.FinalPairs)

	got, err := os.ReadFile(visits)
	require.NoError(t, err)
	assert.Equal(t, "H1\nHX\n", string(got))

	// The outputs exist and are empty read files, not an error.
	n, err := utils.CountReads(outR1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.FileExists(t, outR2)
}

func TestDepleteHostFailureIsFatal(t *testing.T) {

	d := newTestDepleter(t)
	r1, r2 := writePair(t, t.TempDir())
	workDir := t.TempDir()

	outDir := t.TempDir()
	outR1 := path.Join(outDir, "clean_R1.fastq.gz")
	outR2 := path.Join(outDir, "clean_R2.fastq.gz")

	hosts := []Host{{Prefix: "/hosts/H1"}, {Prefix: "/hosts/HF"}, {Prefix: "/hosts/H2"}}
	_, err := d.Deplete(context.Background(), r1, r2, hosts, workDir, outR1, outR2)
	require.Error(t, err)

	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 11, te.ExitCode)
	assert.Contains(t, te.StderrTail, "segfault")

	// No partial output is compressed and no summary is written.
	assert.NoFileExists(t, outR1)
	assert.NoFileExists(t, outR2)
	assert.NoFileExists(t, path.Join(workDir, SummaryFile))
}

func TestDepleteNoHostsPassesReadsThrough(t *testing.T) {

	d := newTestDepleter(t)
	r1, r2 := writePair(t, t.TempDir())

	outDir := t.TempDir()
	outR1 := path.Join(outDir, "clean_R1.fastq.gz")
	outR2 := path.Join(outDir, "clean_R2.fastq.gz")

	sum, err := d.Deplete(context.Background(), r1, r2, nil, t.TempDir(), outR1, outR2)
	require.NoError(t, err)

	assert.Empty(t, sum.Rounds)
	assert.Equal(t, 0, sum.TotalRemoved)
	assert.Equal(t, 1, sum.FinalPairs)

	n, err := utils.CountReads(outR1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDepleteMissingInput(t *testing.T) {

	d := newTestDepleter(t)

	_, err := d.Deplete(context.Background(), "/no/such_R1.fastq.gz", "/no/such_R2.fastq.gz",
		nil, t.TempDir(), "/tmp/o1.gz", "/tmp/o2.gz")
	var me *utils.MissingInputError
	require.ErrorAs(t, err, &me)
}

func TestDiscoverHosts(t *testing.T) {

	dir := t.TempDir()
	for _, f := range []string{"mouse.1.bt2", "mouse.rev.1.bt2", "human.1.bt2"} {
		require.NoError(t, os.WriteFile(path.Join(dir, f), nil, 0666))
	}

	hosts, err := DiscoverHosts(dir)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "human", hosts[0].Name())
	assert.Equal(t, "mouse", hosts[1].Name())
}
