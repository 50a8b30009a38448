package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/coldatoms/siscam/fitjob"
	"github.com/coldatoms/siscam/fitsimg"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/imgrec"
	"github.com/coldatoms/siscam/watch"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"
)

var red = color.New(color.FgRed)

// report prints the result of one fit, red when it failed the sanity checks
func report(out io.Writer, name string, res fitting.Result, elapsed time.Duration) {
	fmt.Fprintf(out, "%s: %s in %v, ROI %v\n", name, res.Pars.Description(), elapsed.Round(time.Millisecond), res.ROI)
	if !res.Pars.Valid() {
		red.Fprintln(out, "  invalid fit")
	}
	fmt.Fprintln(out, res.Pars.String())
}

func readImage(fn string, odmax float64) (*imaging.Image, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fitsimg.ReadOD(f, odmax)
}

func newSpinner() *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " fitting",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// fitFiles fits each named file with the configured model and returns the
// process exit code
func fitFiles(cfg config, args []string) int {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	record := fs.Bool("o", false, "write each fit to the recorder folder")
	model := fs.String("model", cfg.Model, "model to fit")
	fs.Parse(args)
	if fs.NArg() == 0 {
		log.Println("fit: no files given")
		return 2
	}
	var rec *imgrec.Recorder
	if *record {
		rec = newRecorder(cfg.Recorder)
		rec.Enabled = true
		if rec.Root == "" {
			rec.Root = "."
		}
	}

	code := 0
	spin := newSpinner()
	for _, fn := range fs.Args() {
		strat, err := fitting.New(*model, cfg.ImagingPars)
		if err != nil {
			log.Println(err)
			return 2
		}
		img, err := readImage(fn, cfg.ImagingPars.ODMax)
		if err != nil {
			log.Printf("%s: %v\n", fn, err)
			code = 1
			continue
		}

		spin.Message(fn)
		spin.Start()
		start := time.Now()
		res, err := strat.DoFit(img, cfg.ROI)
		if err != nil || !res.Pars.Valid() {
			spin.StopFail()
		} else {
			spin.Stop()
		}
		if err != nil {
			log.Printf("%s: %v\n", fn, err)
			code = 1
			continue
		}
		report(os.Stdout, fn, res, time.Since(start))

		if rec != nil && len(res.Images) > 0 {
			out, err := rec.Record(func(w io.Writer) error {
				return fitsimg.WriteFit(w, img, res)
			})
			if err != nil {
				log.Printf("%s: %v\n", fn, err)
				code = 1
				continue
			}
			fmt.Printf("  written to %s\n", out)
		}
	}
	return code
}

// watchFolder fits every new file in the folder until ctx is done.  The
// folder defaults to Watch.Folder, then the working directory
func watchFolder(ctx context.Context, cfg config, args []string) {
	folder := cfg.Watch.Folder
	if len(args) > 0 {
		folder = args[0]
	}
	if folder == "" {
		folder = "."
	}
	rec := newRecorder(cfg.Recorder)
	runner := fitjob.New(func() (fitting.Strategy, error) {
		return fitting.New(cfg.Model, cfg.ImagingPars)
	}, 1)
	w, err := watch.New(folder, cfg.Watch.Pattern, runner, func() imaging.ROI { return cfg.ROI })
	if err != nil {
		log.Fatal(err)
	}
	w.ODMax = func() float64 { return cfg.ImagingPars.ODMax }
	go func() {
		err := w.Run(ctx)
		if err != nil && err != context.Canceled {
			log.Println(err)
		}
		runner.Close()
	}()
	log.Printf("watching %s for %s, fitting with %s\n", folder, w.Pattern, cfg.Model)

	for job := range runner.Results() {
		if job.Err != nil {
			log.Printf("generation %d: %v\n", job.Generation, job.Err)
			continue
		}
		report(os.Stdout, fmt.Sprintf("#%d", job.Generation), job.Result, job.Elapsed)
		if rec.Active() && len(job.Result.Images) > 0 {
			out, err := rec.Record(func(w io.Writer) error {
				return fitsimg.WriteFit(w, job.Image, job.Result)
			})
			if err != nil {
				log.Println(err)
				continue
			}
			fmt.Printf("  written to %s\n", out)
		}
	}
}
