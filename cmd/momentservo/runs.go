package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/momentservo/internal/analysis"
	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/experiment"
	"github.com/san-kum/momentservo/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	exportFormat string
	exportPath   string
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tTIME\tITERS\tERROR\tELAPSED\tSTATUS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3e\t%v\t%s\n",
			run.ID,
			run.Scenario,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Iterations,
			run.FinalError,
			run.Elapsed.Round(time.Millisecond),
			run.Status,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	if len(trace) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s\n", meta.Scenario)
	fmt.Printf("samples: %d\n\n", len(trace))

	graph := asciigraph.Plot(storage.ErrorSeries(trace, 1e-16),
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.Caption("log10 |e|²"),
	)
	fmt.Println(graph)
	fmt.Println()

	lin := make([]float64, len(trace))
	ang := make([]float64, len(trace))
	for i, p := range trace {
		lin[i] = math.Sqrt(p.Velocity[0]*p.Velocity[0] + p.Velocity[1]*p.Velocity[1] + p.Velocity[2]*p.Velocity[2])
		ang[i] = math.Sqrt(p.Velocity[3]*p.Velocity[3] + p.Velocity[4]*p.Velocity[4] + p.Velocity[5]*p.Velocity[5])
	}
	graph = asciigraph.PlotMany([][]float64{lin, ang},
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Blue),
		asciigraph.Caption("|v| (m/s, green) and |ω| (rad/s, blue)"),
	)
	fmt.Println(graph)
	fmt.Println()

	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	errSq := make([]float64, len(trace))
	speed := make([]float64, len(trace))
	for i, p := range trace {
		errSq[i] = p.ErrorSquared
		speed[i] = math.Sqrt(p.Velocity[0]*p.Velocity[0] + p.Velocity[1]*p.Velocity[1] + p.Velocity[2]*p.Velocity[2])
	}

	dt := config.DefaultSamplingTime
	gainVal := config.DefaultGain
	if meta.Config != nil {
		dt = meta.Config.Robot.SamplingTime
		gainVal = meta.Config.Task.Gain
	}

	rate, fit, err := analysis.DecayRate(errSq, dt, 1e-16)
	if err != nil {
		return err
	}

	fmt.Printf("convergence analysis: %s\n\n", meta.ID)
	fmt.Printf("decay rate of |e|²: %.3f 1/s (r² = %.3f)\n", rate, fit)
	fmt.Printf("ideal rate 2λ:      %.3f 1/s\n", 2*gainVal)
	if rate > 0 {
		fmt.Printf("time constant of e: %.3f s\n", 2/rate)
	}

	if f := analysis.DominantFrequency(speed, dt); f > 0 {
		fmt.Printf("dominant velocity oscillation: %.3f hz\n", f)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch exportFormat {
	case "json":
		return storage.ExportJSON(out, meta, trace)
	case "svg":
		svg := storage.ErrorCurveSVG(trace, 800, 400, "#00ff00")
		if svg == "" {
			return fmt.Errorf("not enough samples to draw")
		}
		_, err := io.WriteString(out, svg)
		return err
	case "csv":
		return exportCSV(out, trace)
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}

func exportCSV(out io.Writer, trace []storage.TracePoint) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{"iteration", "time", "tx", "ty", "tz", "tux", "tuy", "tuz", "error2"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, p := range trace {
		row := []string{
			strconv.Itoa(p.Iteration),
			strconv.FormatFloat(p.Elapsed.Seconds(), 'f', 6, 64),
		}
		for _, val := range p.Pose {
			row = append(row, strconv.FormatFloat(val, 'f', 6, 64))
		}
		row = append(row, strconv.FormatFloat(p.ErrorSquared, 'e', 6, 64))
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg := config.GetPreset(args[0])
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s", args[0])
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	fmt.Println("presets:")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Printf("  %-14s initial %v %v°  %d vertices\n",
			name, cfg.Initial.Translation, cfg.Initial.Rotation, len(cfg.Target.Vertices))
	}
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	reg := experiment.NewRegistry()
	counts := []int{100, 500}

	fmt.Println("benchmarking extractors")
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXTRACTOR\tITERS\tTIME\tITERS/SEC")

	for _, kind := range reg.ListExtractors() {
		for _, n := range counts {
			cfg := config.DefaultConfig()
			cfg.Extractor.Kind = kind
			cfg.Loop.Iterations = n
			cfg.Loop.Period = 0

			exp, err := experiment.New(cfg, reg)
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := exp.Run(cmd.Context())
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			fmt.Fprintf(w, "%s\t%d\t%v\t%.0f\n",
				kind, result.Iterations, elapsed.Round(time.Microsecond), float64(result.Iterations)/elapsed.Seconds())
		}
	}

	return w.Flush()
}
