package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pspoerri/sensorgeo/internal/metadata"
	"github.com/pspoerri/sensorgeo/internal/rpc"
	"github.com/pspoerri/sensorgeo/internal/rstransform"
)

// imageTransform configures a transform from the pixel grid of md to
// WGS84. Pixel (0, 0) is the centre of the first pixel.
func (e *env) imageTransform(md *metadata.ImageMetadata) *rstransform.GenericRSTransform {
	g := rstransform.New(e.logger)
	g.SetInputImageMetadata(md)
	g.SetInputProjectionRef(md.ProjectionRef)
	g.SetInputSpacing(md.Spacing)
	g.SetInputOrigin(md.Origin)
	src := e.elevationSource()
	g.SetInputRPCOptions(e.rpcOptions(src == nil))
	g.SetElevationSource(src)
	return g
}

// rpcOptions maps the global flags onto RPC options. Without elevation
// data the default height becomes the constant RPC height.
func (e *env) rpcOptions(constantHeight bool) rpc.Options {
	opts := rpc.DefaultOptions()
	if constantHeight {
		opts.HeightOffset = e.height
	}
	opts.DEMInterpolation = e.interp
	if e.hasMissingValue {
		opts.DEMMissingValue, opts.HasDEMMissingValue = e.missingValue, true
	}
	return opts
}

// loadTransform loads the image metadata at path and instantiates the
// image to WGS84 transform, or its inverse.
func loadTransform(c *cli.Context, path string, inverse bool) (*rstransform.Instantiated, error) {
	e, err := getEnv(c)
	if err != nil {
		return nil, err
	}
	md, err := metadata.Load(path)
	if err != nil {
		return nil, err
	}
	g := e.imageTransform(md)
	if inverse {
		_, h, err := g.GetInverseTransform()
		return h, err
	}
	return g.InstantiateTransform()
}

// parsePoint reads "x y [h]" arguments.
func parsePoint(args []string) (rstransform.Point, error) {
	if len(args) != 2 && len(args) != 3 {
		return rstransform.Point{}, errors.Errorf("expected 2 or 3 coordinates, got %d", len(args))
	}
	v := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return rstransform.Point{}, errors.Wrapf(err, "coordinate %d", i+1)
		}
		v[i] = f
	}
	if len(v) == 3 {
		return rstransform.Pt3(v[0], v[1], v[2]), nil
	}
	return rstransform.Pt(v[0], v[1]), nil
}

func formatPoint(p rstransform.Point, prec int) string {
	s := strconv.FormatFloat(p.X, 'f', prec, 64) + " " + strconv.FormatFloat(p.Y, 'f', prec, 64)
	if p.HasZ {
		s += " " + strconv.FormatFloat(p.Z, 'f', -1, 64)
	}
	return s
}

func pointCommand(name, usage, argsUsage string, inverse bool, prec int) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return errors.Errorf("usage: %s %s", name, argsUsage)
			}
			p, err := parsePoint(c.Args().Slice()[1:])
			if err != nil {
				return err
			}
			h, err := loadTransform(c, c.Args().First(), inverse)
			if err != nil {
				return err
			}
			defer h.Close()

			out, err := h.TransformPoint(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, formatPoint(out, prec))
			if c.Bool(flagAccuracy) {
				fmt.Fprintln(c.App.ErrWriter, "accuracy:", h.Accuracy())
			}
			return nil
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagAccuracy, Usage: "print the accuracy classification to stderr"},
		},
	}
}

const flagAccuracy = "accuracy"

func img2geoCommand() *cli.Command {
	return pointCommand("img2geo", "transform an image position to WGS84 lon/lat",
		"<image> <x> <y> [height]", false, 9)
}

func geo2imgCommand() *cli.Command {
	return pointCommand("geo2img", "transform a WGS84 lon/lat to an image position",
		"<image> <lon> <lat> [height]", true, 4)
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print image size, georeferencing, RPC model and ground corners",
		ArgsUsage: "<image>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: info <image>")
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			md, err := metadata.Load(c.Args().First())
			if err != nil {
				return err
			}
			return printInfo(c.App.Writer, e, md)
		},
	}
}

func printInfo(w io.Writer, e *env, md *metadata.ImageMetadata) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Size:\t%d x %d\n", md.Width, md.Height)
	fmt.Fprintf(tw, "Spacing:\t%g, %g\n", md.Spacing[0], md.Spacing[1])
	fmt.Fprintf(tw, "Origin:\t%.6f, %.6f\n", md.Origin[0], md.Origin[1])
	ref := md.ProjectionRef
	if ref == "" {
		ref = "(none)"
	}
	fmt.Fprintf(tw, "Projection:\t%s\n", ref)
	if md.HasRPC() {
		p := md.RPC
		fmt.Fprintf(tw, "RPC line:\toffset %g scale %g\n", p.LineOffset, p.LineScale)
		fmt.Fprintf(tw, "RPC sample:\toffset %g scale %g\n", p.SampleOffset, p.SampleScale)
		fmt.Fprintf(tw, "RPC lat:\toffset %g scale %g\n", p.LatOffset, p.LatScale)
		fmt.Fprintf(tw, "RPC lon:\toffset %g scale %g\n", p.LonOffset, p.LonScale)
		fmt.Fprintf(tw, "RPC height:\toffset %g scale %g\n", p.HeightOffset, p.HeightScale)
	}
	keys := make([]string, 0, len(md.Extra))
	for k := range md.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", k, md.Extra[k])
	}

	g := e.imageTransform(md)
	h, err := g.InstantiateTransform()
	if err != nil {
		return err
	}
	defer h.Close()
	fmt.Fprintf(tw, "Accuracy:\t%s\n", h.Accuracy())
	if h.Accuracy() != rstransform.AccuracyUnknown && md.Width > 0 && md.Height > 0 {
		// Outer pixel corners in pixel-centre coordinates.
		w, ht := float64(md.Width)-0.5, float64(md.Height)-0.5
		corners := []struct {
			name string
			p    rstransform.Point
		}{
			{"Upper left", rstransform.Pt(-0.5, -0.5)},
			{"Upper right", rstransform.Pt(w, -0.5)},
			{"Lower left", rstransform.Pt(-0.5, ht)},
			{"Lower right", rstransform.Pt(w, ht)},
		}
		for _, cn := range corners {
			q, err := h.TransformPoint(cn.p)
			if err != nil {
				fmt.Fprintf(tw, "%s:\tfailed (%v)\n", cn.name, err)
				continue
			}
			fmt.Fprintf(tw, "%s:\t%.6f, %.6f\n", cn.name, q.X, q.Y)
		}
	}
	if ct, err := h.Transform(); err == nil && ct.First.Kind() == rstransform.KindRPCForward && md.Width > 0 && md.Height > 0 {
		fp, err := rpc.ImageFootprint(ct.First.Model(), md.Width, md.Height, 0, 8)
		if err != nil {
			fmt.Fprintf(tw, "Footprint:\tfailed (%v)\n", err)
		} else {
			fmt.Fprintf(tw, "Footprint:\t%s\n", fp)
		}
	}
	return tw.Flush()
}
