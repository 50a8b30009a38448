/*Package fitjob runs fits in the background and delivers only the newest result.

A Runner is fed (image, ROI) pairs, typically straight from a camera or a
folder watch.  Each Submit starts a new generation.  Fits run on their own
goroutine with a fresh strategy, so a slow fit never blocks acquisition, and a
result that arrives after a newer submission is discarded.
*/
package fitjob

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/imaging"
)

// ErrClosed is generated when a job is submitted to a closed Runner
var ErrClosed = errors.New("runner closed")

// Factory returns a strategy to run one fit with.  It is called once per job.
type Factory func() (fitting.Strategy, error)

// Job is the outcome of one submission
type Job struct {
	// Generation is the value Submit returned for this job
	Generation uint64

	// Image is the copy of the submitted image that was fit
	Image *imaging.Image

	// Result is the fit result.  It holds a fitpars.NoFit if the fit panicked
	Result fitting.Result

	// Err is the error returned by the strategy, if any
	Err error

	// Elapsed is the wall time the fit took
	Elapsed time.Duration
}

// Runner fits submitted images on background goroutines
type Runner struct {
	factory Factory
	results chan Job

	mu     sync.Mutex
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

// New returns a Runner using factory.  Results are buffered up to depth
// jobs; when the buffer is full the older buffered result is dropped.
func New(factory Factory, depth int) *Runner {
	if depth < 1 {
		depth = 1
	}
	return &Runner{factory: factory, results: make(chan Job, depth)}
}

// Results delivers finished jobs.  It is closed by Close once every running
// fit has returned.
func (r *Runner) Results() <-chan Job {
	return r.results
}

// Generation returns the generation of the most recent submission
func (r *Runner) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Submit copies img and starts a fit of it inside roi, returning the
// generation of the job
func (r *Runner) Submit(img *imaging.Image, roi imaging.ROI) (uint64, error) {
	if img == nil {
		return 0, fitting.ErrNilImage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	r.gen++
	gen := r.gen
	cp := img.Clone()
	r.wg.Add(1)
	go r.run(gen, cp, roi)
	return gen, nil
}

func (r *Runner) run(gen uint64, img *imaging.Image, roi imaging.ROI) {
	defer r.wg.Done()
	start := time.Now()
	res, err := r.fit(img, roi)
	job := Job{Generation: gen, Image: img, Result: res, Err: err, Elapsed: time.Since(start)}
	r.deliver(job)
}

// fit runs one strategy, converting a panic into a NoFit result
func (r *Runner) fit(img *imaging.Image, roi imaging.ROI) (res fitting.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("fitjob: fit panicked: %v\n", p)
			res = fitting.Result{Images: []*imaging.Image{}, Background: []float64{0}, Pars: fitpars.NoFit{}, ROI: roi}
			err = fmt.Errorf("fit panicked: %v", p)
		}
	}()
	s, err := r.factory()
	if err != nil {
		return fitting.Result{}, err
	}
	return s.DoFit(img, roi)
}

func (r *Runner) deliver(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.Generation != r.gen {
		log.Printf("fitjob: discarding result of generation %d, newest is %d\n", job.Generation, r.gen)
		return
	}
	for {
		select {
		case r.results <- job:
			return
		default:
		}
		// full, make room by dropping the oldest unread result
		select {
		case old := <-r.results:
			log.Printf("fitjob: dropping unread result of generation %d\n", old.Generation)
		default:
		}
	}
}

// Close stops accepting jobs, waits for running fits and closes Results
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	close(r.results)
}
