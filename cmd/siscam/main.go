package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/coldatoms/siscam/fithttp"
	"github.com/coldatoms/siscam/fitjob"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/generichttp"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/imgrec"
	"github.com/coldatoms/siscam/server/middleware/locker"
	"github.com/coldatoms/siscam/watch"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "siscam.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled turns on recording of every fit
	Enabled bool `yaml:"Enabled"`
}

type watchCfg struct {
	// Folder is the folder to watch; empty disables the watch in run
	Folder string `yaml:"Folder"`

	// Pattern selects the files to fit
	Pattern string `yaml:"Pattern"`
}

type config struct {
	Addr             string              `yaml:"Addr"`
	Root             string              `yaml:"Root"`
	Model            string              `yaml:"Model"`
	ROI              imaging.ROI         `yaml:"ROI"`
	ImagingPars      imaging.ImagingPars `yaml:"ImagingPars"`
	Recorder         recorder            `yaml:"Recorder"`
	Watch            watchCfg            `yaml:"Watch"`
	MaxFitsPerSecond int                 `yaml:"MaxFitsPerSecond"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:             ":8000",
		Root:             "/",
		Model:            "gauss2d",
		ROI:              imaging.DefaultROI(),
		ImagingPars:      imaging.DefaultImagingPars(),
		Recorder:         recorder{Prefix: "fit"},
		Watch:            watchCfg{Pattern: watch.DefaultPattern},
		MaxFitsPerSecond: 10}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconf() config {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `siscam fits absorption images of cold atom clouds.
It serves fits over HTTP, fits FITS files from the command line,
or fits every image written into a folder.

Usage:
	siscam <command>

Commands:
	run
	fit [-o] [-model name] <file.fits>...
	watch [folder]
	models
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `siscam is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Model is one of the names printed by siscam models.  The ROI is given in pixels,
max bounds exclusive, and is clipped to each image.  ImagingPars only affect the
conversion of fit results to physical units, except ODMax: when it is not zero,
every image is corrected for saturation at that optical density before the fit.
A FITS cube without a MODEL card holds the atoms, reference and optional dark
frames of an absorption image.

When Recorder.Enabled is true and Recorder.Root is set, every fit is written to
Root/yyyy-mm-dd/<Prefix>NNNNNN.fits, a cube of the data and the fit images.

When Watch.Folder is set, run also fits every file matching Watch.Pattern
written to that folder; the results are visible at GET /last.

MaxFitsPerSecond limits POST /fit; 0 removes the limit.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("siscam version %v\n", Version)
}

func models() {
	for _, m := range fitting.Models() {
		fmt.Println(m)
	}
}

func newRecorder(c recorder) *imgrec.Recorder {
	return &imgrec.Recorder{Root: c.Root, Prefix: c.Prefix, Enabled: c.Enabled}
}

// buildMux wires the fitter and its lock under the configured root.  The lock
// freezes the fit settings; images can still be fit
func buildMux(cfg config, h *fithttp.HTTPFitter) chi.Router {
	lock := locker.New("/fit")
	locker.Inject(h, lock)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	h.RT().Bind(mux)
	root.Mount(generichttp.SubMuxSanitize(cfg.Root), mux)
	return root
}

func run() {
	cfg := loadconf()
	rec := newRecorder(cfg.Recorder)
	h, err := fithttp.NewHTTPFitter(cfg.Model, cfg.ROI, cfg.ImagingPars, cfg.MaxFitsPerSecond, rec)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("fitting with model %s in ROI %v, imaging %v\n", cfg.Model, cfg.ROI, cfg.ImagingPars)

	if cfg.Watch.Folder != "" {
		runner := fitjob.New(h.Strategy, 1)
		w, err := watch.New(cfg.Watch.Folder, cfg.Watch.Pattern, runner, h.ROI)
		if err != nil {
			log.Fatal(err)
		}
		w.ODMax = h.ODMax
		go func() {
			for job := range runner.Results() {
				h.Observe(job)
			}
		}()
		go func() {
			err := w.Run(context.Background())
			log.Printf("folder watch stopped: %v\n", err)
			runner.Close()
		}()
		log.Printf("watching %s for %s\n", cfg.Watch.Folder, cfg.Watch.Pattern)
	}

	mux := buildMux(cfg, h)
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "fit":
		os.Exit(fitFiles(loadconf(), args[2:]))
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		watchFolder(ctx, loadconf(), args[2:])
		return
	case "models":
		models()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
