// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// musicvae runs pre-trained MusicVAE checkpoints from the command line.
//
// Usage:
//
//	musicvae -checkpoint=<url or dir> inspect
//	musicvae -checkpoint=<url or dir> [-n=4] [-temperature=0.5] sample
//	musicvae -checkpoint=<url or dir> [-interps=5] interpolate a.json b.json [c.json d.json]
//	musicvae -checkpoint=<url or dir> [-n=4] [-similarity=0.8] similar seq.json
//	musicvae -checkpoint=<url> convert <dir>
//
// Note sequences are read and written as JSON. Generated sequences are written to -out.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/google/uuid"
	"github.com/izambard/magenta-js/pkg/musicvae"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagCheckpoint = flag.String("checkpoint", "", "URL or local directory of the MusicVAE checkpoint.")
	flagBackend    = flag.String("backend", "", "GoMLX backend configuration, e.g. \"xla:cpu\" or \"go\". "+
		"If empty, the default backend (or $GOMLX_BACKEND) is used.")
	flagOut      = flag.String("out", ".", "Directory where generated note sequences are written.")
	flagNum      = flag.Int("n", 4, "Number of sequences to generate with sample and similar.")
	flagTemp     = flag.Float64("temperature", musicvae.DefaultSampleTemperature, "Sampling temperature, <= 0 for greedy decoding.")
	flagInterps  = flag.Int("interps", 5, "Number of interpolations (per side, for 4 input sequences).")
	flagSim      = flag.Float64("similarity", 0.8, "Similarity, between 0 and 1, of the sequences generated by similar.")
	flagSeed     = flag.Int64("seed", -1, "Random seed, for reproducible sampling. If negative, a random seed is used.")
	flagQPM      = flag.Float64("qpm", notes.DefaultQPM, "Tempo of the generated sequences, in quarters per minute.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while downloading checkpoints.")
	flagPlain    = flag.Bool("plain", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s -checkpoint=<url or dir> [flags] inspect|sample|interpolate|similar|convert [args...]\n",
			filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *flagPlain || termenv.NewOutput(os.Stdout).Profile == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	args := flag.Args()
	if len(args) == 0 || *flagCheckpoint == "" {
		flag.Usage()
		os.Exit(1)
	}
	command, args := args[0], args[1:]
	var err error
	switch command {
	case "inspect":
		err = inspect()
	case "sample":
		err = sample()
	case "interpolate":
		err = interpolate(args)
	case "similar":
		err = similar(args)
	case "convert":
		err = convert(args)
	default:
		err = errors.Errorf("unknown command %q", command)
	}
	if err != nil {
		klog.Errorf("musicvae %s failed: %+v", command, err)
		os.Exit(1)
	}
}

// newModel creates and initializes the model configured by the flags.
func newModel() (*musicvae.MusicVAE, error) {
	m := musicvae.New(*flagCheckpoint).WithProgressBar(*flagProgress)
	if *flagBackend != "" {
		backend, err := backends.NewWithConfig(*flagBackend)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating backend %q", *flagBackend)
		}
		m.WithBackend(backend)
	}
	if *flagSeed >= 0 {
		m.WithSeed(*flagSeed)
	}
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeOptions returns the options of the generation commands. The -temperature flag is only used
// by commands that don't sample by default if it is set explicitly.
func decodeOptions(sampling bool) []musicvae.Option {
	opts := []musicvae.Option{musicvae.WithQPM(*flagQPM)}
	if sampling || isFlagSet("temperature") {
		opts = append(opts, musicvae.WithTemperature(*flagTemp))
	}
	return opts
}

// readSequences reads and quantizes the sequences in paths.
func readSequences(paths []string) ([]*notes.NoteSequence, error) {
	seqs := make([]*notes.NoteSequence, len(paths))
	for ii, path := range paths {
		seq, err := notes.Load(path)
		if err != nil {
			return nil, err
		}
		if !seq.IsQuantized() {
			if seq, err = notes.Quantize(seq, notes.DefaultStepsPerQuarter); err != nil {
				return nil, errors.WithMessagef(err, "quantizing %q", path)
			}
		}
		seqs[ii] = seq
	}
	return seqs, nil
}

// writeSequences saves the sequences in the -out directory, and prints a table with their file names.
func writeSequences(command string, seqs []*notes.NoteSequence) error {
	if err := os.MkdirAll(*flagOut, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %q", *flagOut)
	}
	runID := uuid.NewString()[:8]
	t := newReport(fmt.Sprintf("Generated %d sequences", len(seqs)), "#", "File", "Notes", "Steps")
	for ii, seq := range seqs {
		seq.SetTimesFromSteps()
		path := filepath.Join(*flagOut, fmt.Sprintf("%s_%s_%03d.json", command, runID, ii))
		if err := notes.Save(path, seq); err != nil {
			return err
		}
		t.add(len(seq.Notes) == 0, fmt.Sprint(ii), path, fmt.Sprint(len(seq.Notes)), fmt.Sprint(seq.TotalQuantizedSteps))
	}
	fmt.Println(t.Render())
	return nil
}

func sample() error {
	m, err := newModel()
	if err != nil {
		return err
	}
	defer m.Dispose()
	seqs, err := m.Sample(*flagNum, decodeOptions(true)...)
	if err != nil {
		return err
	}
	return writeSequences("sample", seqs)
}

func interpolate(paths []string) error {
	if len(paths) != 2 && len(paths) != 4 {
		return errors.Errorf("interpolate takes 2 or 4 note sequence files, got %d", len(paths))
	}
	inputs, err := readSequences(paths)
	if err != nil {
		return err
	}
	m, err := newModel()
	if err != nil {
		return err
	}
	defer m.Dispose()
	seqs, err := m.Interpolate(inputs, *flagInterps, decodeOptions(false)...)
	if err != nil {
		return err
	}
	return writeSequences("interpolate", seqs)
}

func similar(paths []string) error {
	if len(paths) != 1 {
		return errors.Errorf("similar takes 1 note sequence file, got %d", len(paths))
	}
	inputs, err := readSequences(paths)
	if err != nil {
		return err
	}
	m, err := newModel()
	if err != nil {
		return err
	}
	defer m.Dispose()
	seqs, err := m.Similar(inputs[0], *flagNum, *flagSim, decodeOptions(false)...)
	if err != nil {
		return err
	}
	return writeSequences("similar", seqs)
}

func isFlagSet(name string) (found bool) {
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return
}
