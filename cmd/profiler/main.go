// Command profiler generates a synthetic layered jar and drives one archive
// operation in a loop under the Go profilers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // reproducible datasets
	"net/http"
	_ "net/http/pprof" //nolint:gosec // opt-in profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"slices"
	"strings"
	"time"

	"github.com/felixge/fgprof"

	layertools "github.com/aramperes/spring-boot-layertools"
)

type config struct {
	// dataset
	files       int
	fileSize    int
	dirCount    int
	compression string
	pattern     string
	randomSeed  int64
	tempDir     string
	keepTemp    bool

	// workload
	mode       string
	duration   time.Duration
	iterations int
	workers    int
	layers     string
	cold       bool
	readRandom bool

	// profiles
	pprofAddr  string
	cpuProfile string
	memProfile string
	fgProfile  string
	traceFile  string
}

// workload is the state shared by every mode.
type workload struct {
	cfg     config
	archive *layertools.Archive
	jarPath string
	paths   []string
	rootDir string
	rng     *rand.Rand
}

// step runs one iteration of a mode and returns the bytes it processed.
type step func(ctx context.Context, w *workload, iter int) (int64, error)

var modes = map[string]step{
	"extract":  extractStep,
	"readfile": readFileStep,
	"open":     openStep,
	"entries":  entriesStep,
	"classify": classifyStep,
}

//nolint:unused // keeps results alive across iterations
var (
	sinkBytes []byte
	sinkCount int
)

func main() {
	cfg := parseFlags()
	run, ok := modes[cfg.mode]
	if !ok {
		log.Fatalf("unknown mode %q (available: %s)", cfg.mode, strings.Join(modeNames(), ", "))
	}

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // local profiling endpoint
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server: %v", err)
			}
		}()
	}

	if err := profile(cfg, run); err != nil {
		log.Fatal(err)
	}
}

func profile(cfg config, run step) error {
	dir, cleanup, err := workDir(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	jarPath := filepath.Join(dir, "app.jar")
	paths, err := writeJar(jarPath, cfg)
	if err != nil {
		return fmt.Errorf("generate jar: %w", err)
	}

	ctx := context.Background()
	a, err := layertools.Open(ctx, jarPath)
	if err != nil {
		return err
	}
	defer a.Close()

	w := &workload{
		cfg:     cfg,
		archive: a,
		jarPath: jarPath,
		paths:   paths,
		rootDir: dir,
		rng:     rand.New(rand.NewSource(cfg.randomSeed)), //nolint:gosec // reproducible
	}

	stop, err := startProfiles(cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	ops, total, runErr := loop(ctx, w, run, start)
	elapsed := time.Since(start)
	if err := stop(); err != nil {
		log.Printf("stop profiles: %v", err)
	}
	if runErr != nil {
		return runErr
	}
	if err := writeHeapProfile(cfg.memProfile); err != nil {
		return err
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode, ops, total, elapsed, float64(total)/(1<<20)/elapsed.Seconds())
	return nil
}

func loop(ctx context.Context, w *workload, run step, start time.Time) (int, int64, error) {
	var total int64
	ops := 0
	for {
		if w.cfg.iterations > 0 {
			if ops >= w.cfg.iterations {
				break
			}
		} else if time.Since(start) >= w.cfg.duration {
			break
		}
		n, err := run(ctx, w, ops)
		if err != nil {
			return ops, total, fmt.Errorf("%s iteration %d: %w", w.cfg.mode, ops, err)
		}
		total += n
		ops++
	}
	return ops, total, nil
}

func extractStep(ctx context.Context, w *workload, iter int) (int64, error) {
	opts := []layertools.ExtractOption{layertools.ExtractWithWorkers(w.cfg.workers)}
	if w.cfg.layers != "" {
		opts = append(opts, layertools.ExtractWithLayers(strings.Split(w.cfg.layers, ",")...))
	}
	dest := filepath.Join(w.rootDir, "layers")
	if w.cfg.cold {
		dest = filepath.Join(dest, fmt.Sprintf("iter-%d", iter))
	}
	report, err := w.archive.Extract(ctx, dest, opts...)
	if err != nil {
		return 0, err
	}
	if w.cfg.cold {
		if err := os.RemoveAll(dest); err != nil {
			return 0, err
		}
	}
	return int64(report.Bytes()), nil //nolint:gosec // bounded by the dataset
}

func readFileStep(_ context.Context, w *workload, iter int) (int64, error) {
	name := w.paths[iter%len(w.paths)]
	if w.cfg.readRandom {
		name = w.paths[w.rng.Intn(len(w.paths))]
	}
	content, err := w.archive.ReadFile(name)
	if err != nil {
		return 0, err
	}
	sinkBytes = content
	return int64(len(content)), nil
}

func openStep(ctx context.Context, w *workload, _ int) (int64, error) {
	a, err := layertools.Open(ctx, w.jarPath)
	if err != nil {
		return 0, err
	}
	sinkCount = a.Len()
	return 0, a.Close()
}

func entriesStep(_ context.Context, w *workload, _ int) (int64, error) {
	count := 0
	for rec := range w.archive.Entries() {
		if !rec.IsDir() {
			count++
		}
	}
	if count == 0 {
		return 0, errors.New("archive has no files")
	}
	sinkCount = count
	return 0, nil
}

func classifyStep(_ context.Context, w *workload, _ int) (int64, error) {
	count := 0
	for rec := range w.archive.Entries() {
		if _, ok := w.archive.LayerOf(rec.Name); ok {
			count++
		}
	}
	sinkCount = count
	return 0, nil
}

// startProfiles starts the file-based profilers named in cfg. The returned
// function stops them in reverse order.
func startProfiles(cfg config) (func() error, error) {
	var stops []func() error
	stopAll := func() error {
		var errs []error
		for _, stop := range slices.Backward(stops) {
			errs = append(errs, stop())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func() error, error) {
		_ = stopAll() //nolint:errcheck // reporting the start error
		return nil, err
	}

	if cfg.fgProfile != "" {
		f, err := os.Create(cfg.fgProfile)
		if err != nil {
			return fail(err)
		}
		stopFG := fgprof.Start(f, fgprof.FormatPprof)
		stops = append(stops, func() error { return errors.Join(stopFG(), f.Close()) })
	}
	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			return fail(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return fail(err)
		}
		stops = append(stops, func() error { pprof.StopCPUProfile(); return f.Close() })
	}
	if cfg.traceFile != "" {
		f, err := os.Create(cfg.traceFile)
		if err != nil {
			return fail(err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return fail(err)
		}
		stops = append(stops, func() error { trace.Stop(); return f.Close() })
	}
	return stopAll, nil
}

func writeHeapProfile(path string) error {
	if path == "" {
		return nil
	}
	runtime.GC()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func workDir(cfg config) (string, func(), error) {
	if cfg.tempDir != "" {
		//nolint:gosec // scratch directory
		return cfg.tempDir, func() {}, os.MkdirAll(cfg.tempDir, 0o755)
	}
	dir, err := os.MkdirTemp("", "layertools-profiler-*")
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if !cfg.keepTemp {
			_ = os.RemoveAll(dir)
		}
	}, nil
}

func modeNames() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func parseFlags() config {
	var cfg config
	flag.IntVar(&cfg.files, "files", 512, "number of generated entries")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "size of each entry in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of package directories")
	flag.StringVar(&cfg.compression, "compression", "deflate", "entry method: store, deflate, or zstd")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "content: compressible or random")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory for the dataset")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep the dataset after the run")

	flag.StringVar(&cfg.mode, "mode", "extract", "workload: "+strings.Join(modeNames(), ", "))
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "run time when -iterations is 0")
	flag.IntVar(&cfg.iterations, "iterations", 0, "fixed number of iterations")
	flag.IntVar(&cfg.workers, "workers", 0, "extract workers: <0 serial, 0 auto, >0 fixed")
	flag.StringVar(&cfg.layers, "layers", "", "comma separated layers to extract")
	flag.BoolVar(&cfg.cold, "cold", true, "extract into a fresh directory each iteration")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "pick readfile entries at random")

	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "serve net/http/pprof on this address")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write a CPU profile")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write a heap profile")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write an fgprof wall clock profile")
	flag.StringVar(&cfg.traceFile, "trace", "", "write an execution trace")
	flag.Parse()
	return cfg
}
