/*

Gosse computes likelihoods of state-dependent speciation and
extinction models (BiSSE, MuSSE, HiSSE, GeoSSE and relatives) and
fits them with L-BFGS-B.

Likelihood of the model with the default or starting rates:

	gosse like -model bisse tree.nwk traits.tsv

Maximum likelihood fit using a model file:

	gosse fit -config model.yaml tree.nwk traits.tsv

List the available models and their rates:

	gosse models

*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/gosse/checkpoint"
	"bitbucket.org/Davydov/gosse/sse"
	"bitbucket.org/Davydov/gosse/traits"
	"bitbucket.org/Davydov/gosse/tree"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gosse")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("gosse", "state-dependent speciation and extinction models").Version(version)

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// likelihood computation
	likeCmd     = app.Command("like", "compute likelihood for the starting rates")
	likeModel   = likeCmd.Flag("model", "model name (overrides the model file)").String()
	likeConfigF = likeCmd.Flag("config", "YAML model file").ExistingFile()
	likeTreeF   = likeCmd.Arg("tree", "dated phylogenetic tree").Required().ExistingFile()
	likeTraitsF = likeCmd.Arg("traits", "tip states (TSV with taxon and state columns)").Required().ExistingFile()

	// optimization
	fitCmd     = app.Command("fit", "maximum likelihood fit")
	fitModel   = fitCmd.Flag("model", "model name (overrides the model file)").String()
	fitConfigF = fitCmd.Flag("config", "YAML model file").ExistingFile()
	fitTreeF   = fitCmd.Arg("tree", "dated phylogenetic tree").Required().ExistingFile()
	fitTraitsF = fitCmd.Arg("traits", "tip states (TSV with taxon and state columns)").Required().ExistingFile()
	method     = fitCmd.Flag("method", "optimization method to use "+
		"(lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"none: just compute likelihood, no optimization)").Default("lbfgsb").Enum("lbfgsb", "none")
	iterations  = fitCmd.Flag("iter", "number of iterations").Default("10000").Int()
	report      = fitCmd.Flag("report", "report every N iterations").Default("1").Int()
	outF        = fitCmd.Flag("out", "write optimization trajectory to a file").String()
	startF      = fitCmd.Flag("start", "read start position from the trajectory or JSON file").ExistingFile()
	checkpointF = fitCmd.Flag("checkpoint", "checkpoint database, the optimization is resumed from it").String()
	cpSeconds   = fitCmd.Flag("checkpoint-seconds", "save checkpoint not more often than every N seconds").Default("60").Float64()

	// models
	modelsCmd = app.Command("models", "list the available models")
)

// fitSettings are the fit command settings.
type fitSettings struct {
	method     string
	iterations int
	report     int
	traj       io.Writer
	startF     string
	cpF        string
	cpSeconds  float64
	workers    int
}

// readInput reads the tree and the tip states.
func readInput(treeF, traitsF string) (*tree.Tree, *traits.Data, error) {
	t, err := readTree(treeF)
	if err != nil {
		return nil, nil, err
	}
	data, err := readTraits(traitsF)
	if err != nil {
		return nil, nil, err
	}
	return t, data, nil
}

// runLike computes the likelihood of the starting parameters.
func runLike(ctx context.Context, ms *modelSettings, t *tree.Tree, data *traits.Data) (*RunSummary, error) {
	startTime := time.Now()
	m, err := ms.createModel(ctx, t, data)
	if err != nil {
		return nil, err
	}
	lnL, err := m.LogLikelihood()
	if err != nil {
		return nil, err
	}
	log.Noticef("lnL=%v", lnL)
	return &RunSummary{
		Command: "like",
		Tree:    t.String(),
		LnL:     lnL,
		Model:   m.Summary(),
		Time:    time.Since(startTime).Seconds(),
	}, nil
}

// runFit maximizes the likelihood.
func runFit(ctx context.Context, ms *modelSettings, t *tree.Tree, data *traits.Data, fs fitSettings) (*RunSummary, error) {
	startTime := time.Now()
	m, err := ms.createModel(ctx, t, data)
	if err != nil {
		return nil, err
	}
	if fs.startF != "" {
		if err := readStart(fs.startF, m.GetFloatParameters()); err != nil {
			return nil, fmt.Errorf("reading start values from %s: %w", fs.startF, err)
		}
	}

	o := &optimizerSettings{
		method:  fs.method,
		model:   m,
		workers: fs.workers,
		report:  fs.report,
		trajF:   fs.traj,
		cpModel: ms.family.Name,
	}
	if fs.cpF != "" {
		db, err := checkpoint.Open(fs.cpF)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		o.cp = checkpoint.NewCheckpointIO(db, []byte("fit"), fs.cpSeconds)
	}

	opt, err := o.create()
	if err != nil {
		return nil, err
	}
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM)
	opt.Run(fs.iterations)
	opt.PrintResults()

	pars := m.GetFloatParameters()
	if err := pars.SetValues(opt.GetMaxLParameters()); err != nil {
		return nil, err
	}
	return &RunSummary{
		Command:   "fit",
		Tree:      t.String(),
		LnL:       opt.GetMaxL(),
		Model:     m.Summary(),
		Optimizer: opt.Summary(),
		Time:      time.Since(startTime).Seconds(),
	}, nil
}

// listModels prints the registered models with their states and
// rates.
func listModels(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, info := range sse.Models() {
		f, err := sse.New(info.Name, sse.Options{})
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.Description)
		fmt.Fprintf(tw, "\tstates:\t%v\n", f.Space.Labels())
		names := make([]string, len(f.Slots))
		for i, slot := range f.Slots {
			names[i] = slot.Name
		}
		fmt.Fprintf(tw, "\trates:\t%v\n", names)
	}
	return tw.Flush()
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	logging.SetLevel(level, "gosse")
	logging.SetLevel(level, "sse")
	logging.SetLevel(level, "optimize")
	logging.SetLevel(level, "checkpoint")

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	runtime.GOMAXPROCS(*nThreads)
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	ctx := context.Background()
	var summary *RunSummary

	switch cmd {
	case modelsCmd.FullCommand():
		if err := listModels(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	case likeCmd.FullCommand():
		cfg, err := loadModelConfig(*likeConfigF, *likeModel)
		if err != nil {
			log.Fatal(err)
		}
		ms, err := newModelSettings(cfg, effectiveNThreads)
		if err != nil {
			log.Fatal(err)
		}
		t, data, err := readInput(*likeTreeF, *likeTraitsF)
		if err != nil {
			log.Fatal(err)
		}
		summary, err = runLike(ctx, ms, t, data)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(summary.LnL)
	case fitCmd.FullCommand():
		cfg, err := loadModelConfig(*fitConfigF, *fitModel)
		if err != nil {
			log.Fatal(err)
		}
		ms, err := newModelSettings(cfg, effectiveNThreads)
		if err != nil {
			log.Fatal(err)
		}
		t, data, err := readInput(*fitTreeF, *fitTraitsF)
		if err != nil {
			log.Fatal(err)
		}
		fs := fitSettings{
			method:     *method,
			iterations: *iterations,
			report:     *report,
			traj:       os.Stdout,
			startF:     *startF,
			cpF:        *checkpointF,
			cpSeconds:  *cpSeconds,
			workers:    effectiveNThreads,
		}
		if *outF != "" {
			f, err := os.Create(*outF)
			if err != nil {
				log.Fatal(err)
			}
			defer f.Close()
			fs.traj = f
		}
		summary, err = runFit(ctx, ms, t, data, fs)
		if err != nil {
			log.Fatal(err)
		}
	}

	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args

	// output summary in json format
	if *jsonF != "" {
		if err := summary.write(*jsonF); err != nil {
			log.Error("Error writing json output:", err)
		}
	}
}
