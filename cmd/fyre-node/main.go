// Package main is fyre-node, a headless binary exercising the core
// rendering, animation, remote, cluster, and bifurcation packages
// without any GUI: it can render a single frame or an animation to
// PNG, run as a remote rendering worker, drive a cluster of workers
// toward one master image, or scan a bifurcation diagram between two
// parameter sets.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot/vg"

	"github.com/davidt/fyre/animation"
	"github.com/davidt/fyre/bifurcation"
	"github.com/davidt/fyre/cluster"
	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/discovery"
	"github.com/davidt/fyre/fyrelog"
	"github.com/davidt/fyre/remote/server"
	"github.com/davidt/fyre/rng"
)

// Logging defaults, matching the teacher's cmd/rv and
// cmd/audio-netsender file logger configuration.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 10
	logMaxAgeDays = 28
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(os.Args[2:])
	case "animate":
		err = runAnimate(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "cluster":
		err = runCluster(os.Args[2:])
	case "discover":
		err = runDiscover(os.Args[2:])
	case "diagram":
		err = runDiagram(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fyre-node: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fyre-node <command> [flags]

commands:
  render    render one de Jong frame to a PNG file
  animate   render an animation file to a sequence of PNG frames
  serve     run as a remote rendering worker
  cluster   drive remote workers toward one master image
  discover  list rendering servers that answer a broadcast probe
  diagram   render a bifurcation diagram between two parameter sets`)
}

// contextWithSignals returns a context canceled on SIGINT/SIGTERM, the
// same shutdown trigger a systemd-managed service receives.
func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(path string, level int8) fyrelog.Logger {
	if path == "" {
		return nil
	}
	return fyrelog.NewFile(level, fyrelog.FileConfig{
		Filename:   path,
		MaxSizeMB:  logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAgeDays: logMaxAgeDays,
	}, true, os.Stderr)
}

func loadSnapshot(path string) (*dejong.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read params file")
	}
	return dejong.ParseSnapshot(string(data))
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "encode png")
	}
	return f.Close()
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var (
		paramsPath = fs.String("params", "", "path to a saved parameter file (optional)")
		out        = fs.String("out", "frame.png", "output PNG path")
		width      = fs.Uint("width", 640, "image width")
		height     = fs.Uint("height", 480, "image height")
		seconds    = fs.Float64("seconds", 5, "rendering time budget, in seconds")
		seed       = fs.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := dejong.New(*seed)
	if *paramsPath != "" {
		snap, err := loadSnapshot(*paramsPath)
		if err != nil {
			return err
		}
		m.Apply(snap)
	}
	if err := m.Resize(*width, *height); err != nil {
		return errors.Wrap(err, "resize")
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	deadline := time.Now().Add(time.Duration(*seconds * float64(time.Second)))
	for time.Now().Before(deadline) && ctx.Err() == nil {
		m.CalculateTimed(dejong.DefaultRenderTime.Seconds())
	}

	return savePNG(*out, m.Image())
}

func runAnimate(args []string) error {
	fs := flag.NewFlagSet("animate", flag.ExitOnError)
	var (
		animPath  = fs.String("animation", "", "path to a saved animation file")
		outDir    = fs.String("outdir", ".", "directory to write numbered PNG frames into")
		width     = fs.Uint("width", 640, "image width")
		height    = fs.Uint("height", 480, "image height")
		frameRate = fs.Float64("framerate", 24, "frames per second")
		quality   = fs.Float64("quality", 0.95, "per-frame quality target before moving on")
		seed      = fs.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *animPath == "" {
		return errors.New("animate: -animation is required")
	}

	f, err := os.Open(*animPath)
	if err != nil {
		return errors.Wrap(err, "open animation file")
	}
	defer f.Close()

	a := animation.New()
	if err := a.Load(f, nil); err != nil {
		return errors.Wrap(err, "load animation")
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	start := dejong.New(*seed)
	end := dejong.New(*seed)
	for _, m := range []*dejong.Map{start, end} {
		if err := m.Resize(*width, *height); err != nil {
			return errors.Wrap(err, "resize")
		}
	}

	it := a.IterFirst()
	for frame := 0; ctx.Err() == nil; frame++ {
		ok, err := a.IterReadFrame(it, start, end, *frameRate)
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		if !ok {
			return nil
		}

		startSnap, endSnap := start.Snapshot(), end.Snapshot()
		start.CalculateMotionTimed(dejong.DefaultRenderTime.Seconds(), false, func(alpha float64) {
			start.InterpolateFrom(alpha, startSnap, endSnap)
		})
		for start.ComputeQuality() < *quality && ctx.Err() == nil {
			start.CalculateMotionTimed(dejong.DefaultRenderTime.Seconds(), true, func(alpha float64) {
				start.InterpolateFrom(alpha, startSnap, endSnap)
			})
		}

		outPath := filepath.Join(*outDir, fmt.Sprintf("frame-%05d.png", frame))
		if err := savePNG(outPath, start.Image()); err != nil {
			return err
		}
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		addr       = fs.String("addr", server.DefaultAddr, "address to listen on")
		verbose    = fs.Bool("verbose", false, "log each connection and command")
		renderTime = fs.Duration("render-time", dejong.DefaultRenderTime, "calculation burst length")
		logPath    = fs.String("log", "", "log file path (disabled if empty)")
		advertise  = fs.Bool("advertise", false, "answer discovery broadcasts for this server")
		service    = fs.String("service-name", discovery.DefaultServiceName, "service name to advertise")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*logPath, fyrelog.Info)

	s := server.New(*addr, log)
	s.Verbose = *verbose
	s.RenderTime = *renderTime

	ctx, cancel := contextWithSignals()
	defer cancel()

	if *advertise {
		_, portStr, err := splitHostPort(*addr, server.DefaultAddr)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return errors.Wrap(err, "serve: parse listen port")
		}

		ds, err := discovery.NewServer(*service, port, log)
		if err != nil {
			return errors.Wrap(err, "serve: start discovery responder")
		}
		go func() {
			defer ds.Close()
			if err := ds.Run(ctx); err != nil && ctx.Err() == nil && log != nil {
				log.Log(fyrelog.Warning, "serve: discovery responder: %v", err)
			}
		}()
	}

	return s.Run(ctx)
}

func runCluster(args []string) error {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	var (
		nodes       = fs.String("nodes", "", "comma-separated host[:port] list of rendering workers")
		nodeList    = fs.String("node-list", "", "path to a node-list file to load and hot-reload (optional)")
		discover    = fs.Bool("discover", false, "auto-discover workers by broadcast")
		out         = fs.String("out", "cluster.png", "path the master image is periodically written to")
		width       = fs.Uint("width", 640, "image width")
		height      = fs.Uint("height", 480, "image height")
		statusEvery = fs.Duration("status-interval", 5*time.Second, "how often to merge results, print status, and save the master image")
		minStream   = fs.Duration("min-stream-interval", 0, "minimum interval between histogram stream requests per node (0 uses the package default)")
		seed        = fs.Int64("seed", time.Now().UnixNano(), "PRNG seed for the master map")
		logPath     = fs.String("log", "", "log file path (disabled if empty)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*logPath, fyrelog.Info)

	master := dejong.New(*seed)
	if err := master.Resize(*width, *height); err != nil {
		return errors.Wrap(err, "resize")
	}

	c := cluster.New(master)
	c.Log = log

	ctx, cancel := contextWithSignals()
	defer cancel()

	if *minStream > 0 {
		c.SetMinStreamInterval(*minStream)
	}
	if *nodes != "" {
		c.AddNodes(ctx, *nodes)
	}
	if *nodeList != "" {
		if err := c.WatchNodeListFile(ctx, *nodeList); err != nil {
			return errors.Wrap(err, "watch node list")
		}
	}
	if *discover {
		if err := c.EnableDiscovery(ctx); err != nil {
			return errors.Wrap(err, "enable discovery")
		}
	}

	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(*statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.MergeResults()
			c.ShowStatus(os.Stdout)
			if err := savePNG(*out, master.Image()); err != nil && log != nil {
				log.Log(fyrelog.Warning, "cluster: save master image: %v", err)
			}
		}
	}
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	var (
		service  = fs.String("service-name", discovery.DefaultServiceName, "service name to probe for")
		duration = fs.Duration("duration", 5*time.Second, "how long to listen for responses")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dc, err := discovery.NewClient(*service, 0, nil)
	if err != nil {
		return errors.Wrap(err, "discover: start client")
	}
	defer dc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	seen := make(map[string]bool)
	err = dc.Run(ctx, func(host string, port int) {
		key := fmt.Sprintf("%s:%d", host, port)
		if seen[key] {
			return
		}
		seen[key] = true
		fmt.Fprintf(os.Stdout, "%s\n", key)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runDiagram(args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	var (
		fromPath   = fs.String("from", "", "path to the parameter set at the diagram's left edge")
		toPath     = fs.String("to", "", "path to the parameter set at the diagram's right edge")
		out        = fs.String("out", "diagram.png", "output heatmap PNG path")
		columns    = fs.Uint("columns", 800, "number of interpolation columns to scan")
		rows       = fs.Uint("rows", 600, "histogram height")
		iterations = fs.Uint("iterations", 20_000_000, "total iterations spent scanning all columns")
		perColumn  = fs.Uint("per-column", 2000, "iterations spent on one column before moving to the next")
		imgWidth   = fs.Float64("img-width", 800, "rendered plot width, in points")
		imgHeight  = fs.Float64("img-height", 600, "rendered plot height, in points")
		seed       = fs.Int64("seed", time.Now().UnixNano(), "PRNG seed for column trajectories")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fromPath == "" || *toPath == "" {
		return errors.New("diagram: -from and -to are required")
	}

	from, err := loadSnapshot(*fromPath)
	if err != nil {
		return errors.Wrap(err, "load -from parameter set")
	}
	to, err := loadSnapshot(*toPath)
	if err != nil {
		return errors.Wrap(err, "load -to parameter set")
	}

	bd := bifurcation.New(rng.New(*seed))
	if err := bd.Resize(*columns, *rows); err != nil {
		return errors.Wrap(err, "resize")
	}
	bd.SetLinearEndpoints(from, to)

	ctx, cancel := contextWithSignals()
	defer cancel()

	remaining := *iterations
	for remaining > 0 && ctx.Err() == nil {
		batch := *perColumn * *columns
		if batch > remaining {
			batch = remaining
		}
		bd.Calculate(batch, *perColumn)
		remaining -= batch
	}

	return bd.RenderPlot(*out, vg.Points(*imgWidth), vg.Points(*imgHeight))
}

// splitHostPort splits addr into host and port, substituting fallback
// for an empty addr.
func splitHostPort(addr, fallback string) (host, port string, err error) {
	if addr == "" {
		addr = fallback
	}
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", "", errors.New("expected addr to include a port")
	}
	return addr[:i], addr[i+1:], nil
}
