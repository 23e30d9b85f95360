package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pspoerri/sensorgeo/internal/metadata"
	"github.com/pspoerri/sensorgeo/internal/rpc"
	"github.com/pspoerri/sensorgeo/internal/rstransform"
)

const (
	flagInverse = "inverse"
	flagWorkers = "workers"
	flagOutput  = "output"
	flagFitZ    = "elevation"
)

// readRows reads CSV records whose first n columns are numbers, plus up
// to extra optional numeric columns. A first row that does not parse is
// taken as a header and skipped.
func readRows(r io.Reader, n, extra int) ([][]float64, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var values [][]float64
	var records [][]string
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		v, err := parseRow(rec, n, extra)
		if err != nil {
			if row == 1 {
				continue
			}
			line, _ := cr.FieldPos(0)
			return nil, nil, errors.Wrapf(err, "line %d", line)
		}
		values = append(values, v)
		records = append(records, rec)
	}
	if len(values) == 0 {
		return nil, nil, errors.New("no data rows")
	}
	return values, records, nil
}

func parseRow(rec []string, n, extra int) ([]float64, error) {
	if len(rec) < n {
		return nil, errors.Errorf("expected at least %d columns, got %d", n, len(rec))
	}
	var v []float64
	for i := 0; i < len(rec) && i < n+extra; i++ {
		f, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			if i < n {
				return nil, errors.Wrapf(err, "column %d", i+1)
			}
			break
		}
		v = append(v, f)
	}
	return v, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// createOutput opens the --output file, or returns the app writer.
func createOutput(c *cli.Context) (io.Writer, func() error, error) {
	path := c.String(flagOutput)
	if path == "" || path == "-" {
		return c.App.Writer, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "transform the points of a CSV file (x,y[,h] or lon,lat[,h] with --inverse)",
		ArgsUsage: "<image> <points.csv|->",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagInverse, Usage: "transform WGS84 lon/lat to image positions"},
			&cli.IntFlag{Name: flagWorkers, Usage: "parallel workers (0 = all CPUs)"},
			&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write CSV to `FILE` instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("usage: batch <image> <points.csv>")
			}
			in, err := openInput(c.Args().Get(1))
			if err != nil {
				return err
			}
			values, records, err := readRows(in, 2, 1)
			in.Close()
			if err != nil {
				return errors.Wrap(err, "reading points")
			}

			pts := make([]rstransform.Point, len(values))
			for i, v := range values {
				if len(v) == 3 {
					pts[i] = rstransform.Pt3(v[0], v[1], v[2])
				} else {
					pts[i] = rstransform.Pt(v[0], v[1])
				}
			}

			h, err := loadTransform(c, c.Args().First(), c.Bool(flagInverse))
			if err != nil {
				return err
			}
			defer h.Close()
			out, ok, err := h.TransformPointsContext(c.Context, pts, c.Int(flagWorkers))
			if err != nil {
				return err
			}

			w, closeOut, err := createOutput(c)
			if err != nil {
				return err
			}
			prec := 9
			if c.Bool(flagInverse) {
				prec = 4
			}
			cw := csv.NewWriter(w)
			failed := 0
			for i, rec := range records {
				status := "ok"
				x, y := strconv.FormatFloat(out[i].X, 'f', prec, 64), strconv.FormatFloat(out[i].Y, 'f', prec, 64)
				if !ok[i] {
					status, x, y = "failed", "", ""
					failed++
				}
				if err := cw.Write(append(append([]string{}, rec...), x, y, status)); err != nil {
					return err
				}
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			if failed > 0 {
				e, _ := getEnv(c)
				e.logger.Warnw("some points could not be transformed", "failed", failed, "total", len(pts))
			}
			return closeOut()
		},
	}
}

func fitRPCCommand() *cli.Command {
	return &cli.Command{
		Name:      "fit-rpc",
		Usage:     "fit an RPC model to tie points (sample,line,lon,lat[,height]) and write it as RPC text",
		ArgsUsage: "<tiepoints.csv|->",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagFitZ, Value: true, Usage: "fit the height terms when tie points carry heights"},
			&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write the RPC text to `FILE` instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: fit-rpc <tiepoints.csv>")
			}
			in, err := openInput(c.Args().First())
			if err != nil {
				return err
			}
			values, _, err := readRows(in, 4, 1)
			in.Close()
			if err != nil {
				return errors.Wrap(err, "reading tie points")
			}

			tps := make([]rpc.TiePoint, len(values))
			for i, v := range values {
				tps[i] = rpc.TiePoint{Sample: v[0], Line: v[1], Lon: v[2], Lat: v[3]}
				if len(v) == 5 {
					tps[i].Height = v[4]
				}
			}
			p, res, err := rpc.Fit(tps, rpc.FitOptions{UseElevation: c.Bool(flagFitZ)})
			if err != nil {
				return err
			}

			w, closeOut, err := createOutput(c)
			if err != nil {
				return err
			}
			if err := rpc.WriteRPCText(w, p); err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "fitted %d tie points: rms %.4f px, max %.4f px, elevation terms %t\n",
				len(tps), res.RMS, res.MaxResidual, res.ElevationEnabled)

			stats, err := groundResiduals(c, p, tps)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "ground residuals: mean %.3f m, rms %.3f m, max %.3f m, failed %d\n",
				stats.Mean, stats.RMS, stats.Max, stats.Failed)
			return closeOut()
		},
	}
}

// groundResiduals projects the tie points through the fitted model and
// measures how far they land from their surveyed positions.
func groundResiduals(c *cli.Context, p rpc.Param, tps []rpc.TiePoint) (rstransform.ResidualStats, error) {
	e, err := getEnv(c)
	if err != nil {
		return rstransform.ResidualStats{}, err
	}
	md := metadata.New()
	md.RPC = &p
	g := rstransform.New(e.logger)
	g.SetInputImageMetadata(md)
	h, err := g.InstantiateTransform()
	if err != nil {
		return rstransform.ResidualStats{}, err
	}
	defer h.Close()

	refs := make([]rstransform.TiePoint, len(tps))
	for i, tp := range tps {
		refs[i] = rstransform.TiePoint{Image: rstransform.Pt3(tp.Sample, tp.Line, tp.Height), Lon: tp.Lon, Lat: tp.Lat}
	}
	return rstransform.Residuals(h, refs)
}
