/*Package watch fits FITS images as they are written into a folder.

A camera program typically drops one file per shot into a folder.  A Watcher
listens for those files with fsnotify, waits for each to be completely
written, and hands the decoded optical density image to a fit runner.
*/
package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coldatoms/siscam/fitsimg"
	"github.com/coldatoms/siscam/imaging"

	"github.com/cenkalti/backoff"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// DefaultPattern matches the files the watcher picks up when none is configured
const DefaultPattern = "*.fits"

// Submitter accepts images to fit.  *fitjob.Runner satisfies it
type Submitter interface {
	Submit(img *imaging.Image, roi imaging.ROI) (uint64, error)
}

// Watcher submits every matching file written to a folder
type Watcher struct {
	// Folder is the watched directory
	Folder string

	// Pattern is a filepath.Match pattern applied to the base name
	Pattern string

	// ROI returns the region to fit.  It is called once per file
	ROI func() imaging.ROI

	// ODMax returns the saturation density files are corrected for.  Nil
	// disables the correction
	ODMax func() float64

	// MaxWait bounds how long a file that cannot be decoded is retried
	MaxWait time.Duration

	sink Submitter
	fsw  *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]stamp
}

// stamp identifies one version of a file
type stamp struct {
	size int64
	mod  time.Time
}

// New begins watching folder.  Files are only picked up once Run is called
func New(folder, pattern string, sink Submitter, roi func() imaging.ROI) (*Watcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "watch pattern %q", pattern)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating folder watch")
	}
	if err := fsw.Add(folder); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watching %s", folder)
	}
	return &Watcher{
		Folder:  folder,
		Pattern: pattern,
		ROI:     roi,
		MaxWait: 5 * time.Second,
		sink:    sink,
		fsw:     fsw,
		seen:    map[string]stamp{},
	}, nil
}

// Run handles folder events until ctx is done or the watch fails.  The
// underlying watch is closed when Run returns
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.Matches(ev.Name) {
				continue
			}
			if err := w.Handle(ev.Name); err != nil {
				log.Printf("watch: %v\n", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "folder watch")
		}
	}
}

// Matches reports if the base name of fn matches the pattern
func (w *Watcher) Matches(fn string) bool {
	ok, _ := filepath.Match(w.Pattern, filepath.Base(fn))
	return ok
}

// Handle reads fn, retrying while it is still being written, and submits
// it.  A file whose size and modification time are unchanged since the last
// submission is skipped.
func (w *Watcher) Handle(fn string) error {
	img, st, err := w.read(fn)
	if err != nil {
		return err
	}
	w.mu.Lock()
	prev, dup := w.seen[fn]
	dup = dup && prev.size == st.size && prev.mod.Equal(st.mod)
	w.seen[fn] = st
	w.mu.Unlock()
	if dup {
		return nil
	}

	roi := imaging.DefaultROI()
	if w.ROI != nil {
		roi = w.ROI()
	}
	gen, err := w.sink.Submit(img, roi)
	if err != nil {
		return errors.Wrapf(err, "submitting %s", fn)
	}
	log.Printf("watch: submitted %s as generation %d\n", filepath.Base(fn), gen)
	return nil
}

func (w *Watcher) read(fn string) (*imaging.Image, stamp, error) {
	var (
		img   *imaging.Image
		st    stamp
		odmax float64
	)
	if w.ODMax != nil {
		odmax = w.ODMax()
	}
	op := func() error {
		fi, err := os.Stat(fn)
		if err != nil {
			return backoff.Permanent(err)
		}
		f, err := os.Open(fn)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()
		img, err = fitsimg.ReadOD(f, odmax)
		if err != nil {
			// most likely the writer is not done yet
			return err
		}
		st = stamp{size: fi.Size(), mod: fi.ModTime()}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      w.MaxWait,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, stamp{}, errors.Wrapf(err, "reading %s", fn)
	}
	return img, st, nil
}
