// Package metadata loads the geometry of an image: its size, the affine
// spacing and origin of georeferenced rasters, a projection reference and
// RPC coefficients.
package metadata

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pspoerri/sensorgeo/internal/cog"
	"github.com/pspoerri/sensorgeo/internal/rpc"
)

// Keys stored in ImageMetadata.Extra.
const (
	KeySource    = "SOURCE"
	KeyRPCSource = "RPC_SOURCE"
	KeyNoData    = "NODATA"
	KeyWorldFile = "WORLD_FILE"
	KeyBlockSize = "BLOCK_SIZE"
	KeyLevels    = "LEVELS"
)

// ImageMetadata describes the geometry of one image.
//
// Spacing and Origin map pixel indices to the image's reference space:
// Origin is the position of the centre of pixel (0, 0) and Spacing the
// signed step per pixel. In this module rpc.Model works in continuous image
// coordinates with (0, 0) at the outer corner of the first pixel, so sensor
// images without georeferencing use a spacing of 1 and an origin of 0.5.
// This differs from GDAL, whose RPC transformer takes (0, 0) as the centre
// of the first pixel and shifts by 0.5 internally.
type ImageMetadata struct {
	RPC           *rpc.Param
	ProjectionRef string
	Spacing       [2]float64
	Origin        [2]float64
	Width, Height int
	Extra         map[string]string
}

// New returns metadata with sensor image spacing and origin.
func New() *ImageMetadata {
	return &ImageMetadata{
		Spacing: [2]float64{1, 1},
		Origin:  [2]float64{0.5, 0.5},
		Extra:   map[string]string{},
	}
}

// HasRPC reports whether RPC coefficients are present.
func (m *ImageMetadata) HasRPC() bool {
	return m != nil && m.RPC != nil
}

// HasProjection reports whether a projection reference is present.
func (m *ImageMetadata) HasProjection() bool {
	return m != nil && m.ProjectionRef != ""
}

// Load reads metadata by extension: GeoTIFF (.tif, .tiff), GDAL RPC text
// (_rpc.txt, .txt) or DigitalGlobe RPB (.rpb).
func Load(path string) (*ImageMetadata, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return LoadGeoTIFF(path)
	case ".txt":
		return loadRPCFile(path, rpc.ParseRPCText)
	case ".rpb":
		return loadRPCFile(path, rpc.ParseRPB)
	default:
		return nil, errors.Errorf("%s: unsupported metadata file type", path)
	}
}

// LoadGeoTIFF reads the size, georeferencing and RPC coefficients of a
// GeoTIFF. Without an RPC tag, a sibling <base>_RPC.TXT or <base>.RPB is
// used when present.
func LoadGeoTIFF(path string) (*ImageMetadata, error) {
	r, err := cog.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	m := New()
	m.Width, m.Height = r.Width(), r.Height()
	m.Extra[KeySource] = path
	if tw, th := r.TileSize(); tw > 0 {
		m.Extra[KeyBlockSize] = strconv.Itoa(tw) + "x" + strconv.Itoa(th)
	}
	m.Extra[KeyLevels] = strconv.Itoa(r.IFDCount())
	if nd, ok := r.NoData(); ok {
		m.Extra[KeyNoData] = strconv.FormatFloat(nd, 'g', -1, 64)
	}

	geo := r.GeoInfo()
	if geo.HasGeoreference() {
		m.Spacing = [2]float64{geo.PixelSizeX, -geo.PixelSizeY}
		m.Origin[0], m.Origin[1] = geo.PixelToCRS(0.5, 0.5)
		m.ProjectionRef = geo.ProjectionRef()
		if tfw := cog.FindTFW(path); tfw != "" {
			m.Extra[KeyWorldFile] = tfw
		}
	}

	if tag := r.RPCCoefficients(); len(tag) > 0 {
		p, err := rpc.FromTag(tag)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		m.RPC = &p
		m.Extra[KeyRPCSource] = path
		return m, nil
	}

	sidecar, parse := findRPCSidecar(path)
	if sidecar == "" {
		return m, nil
	}
	p, err := parseFile(sidecar, parse)
	if err != nil {
		return nil, err
	}
	m.RPC = &p
	m.Extra[KeyRPCSource] = sidecar
	return m, nil
}

type rpcParser func(io.Reader) (rpc.Param, error)

func loadRPCFile(path string, parse rpcParser) (*ImageMetadata, error) {
	p, err := parseFile(path, parse)
	if err != nil {
		return nil, err
	}
	m := New()
	m.RPC = &p
	m.Extra[KeySource] = path
	m.Extra[KeyRPCSource] = path
	return m, nil
}

func parseFile(path string, parse rpcParser) (rpc.Param, error) {
	f, err := os.Open(path)
	if err != nil {
		return rpc.Param{}, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	p, err := parse(f)
	if err != nil {
		return rpc.Param{}, errors.Wrap(err, path)
	}
	return p, nil
}

// findRPCSidecar looks for <base>_RPC.TXT and <base>.RPB next to an image,
// in either case.
func findRPCSidecar(imagePath string) (string, rpcParser) {
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	candidates := []struct {
		suffix string
		parse  rpcParser
	}{
		{"_RPC.TXT", rpc.ParseRPCText},
		{"_rpc.txt", rpc.ParseRPCText},
		{".RPB", rpc.ParseRPB},
		{".rpb", rpc.ParseRPB},
	}
	for _, c := range candidates {
		p := base + c.suffix
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, c.parse
		}
	}
	return "", nil
}
