package rpc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// scalarFields maps the GDAL RPC text keys to Param fields.
func scalarFields(p *Param) map[string]*float64 {
	return map[string]*float64{
		"ERR_BIAS":     &p.ErrBias,
		"ERR_RAND":     &p.ErrRand,
		"LINE_OFF":     &p.LineOffset,
		"SAMP_OFF":     &p.SampleOffset,
		"LAT_OFF":      &p.LatOffset,
		"LONG_OFF":     &p.LonOffset,
		"HEIGHT_OFF":   &p.HeightOffset,
		"LINE_SCALE":   &p.LineScale,
		"SAMP_SCALE":   &p.SampleScale,
		"LAT_SCALE":    &p.LatScale,
		"LONG_SCALE":   &p.LonScale,
		"HEIGHT_SCALE": &p.HeightScale,
	}
}

func coeffFields(p *Param) map[string]*[NumCoeffs]float64 {
	return map[string]*[NumCoeffs]float64{
		"LINE_NUM_COEFF": &p.LineNum,
		"LINE_DEN_COEFF": &p.LineDen,
		"SAMP_NUM_COEFF": &p.SampleNum,
		"SAMP_DEN_COEFF": &p.SampleDen,
	}
}

// requiredKeys lists the scalar keys every RPC text must carry.
var requiredKeys = []string{
	"LINE_OFF", "SAMP_OFF", "LAT_OFF", "LONG_OFF", "HEIGHT_OFF",
	"LINE_SCALE", "SAMP_SCALE", "LAT_SCALE", "LONG_SCALE", "HEIGHT_SCALE",
}

// ParseRPCText reads GDAL/_RPC.TXT style "KEY: value [unit]" lines.
// Coefficients may be given one per key (LINE_NUM_COEFF_1 ... _20) or as a
// single whitespace separated list under LINE_NUM_COEFF.
func ParseRPCText(r io.Reader) (Param, error) {
	var p Param
	scalars := scalarFields(&p)
	coeffs := coeffFields(&p)
	seen := map[string]bool{}
	coeffCount := map[string]int{}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: missing ':'", lineNo)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: %s has no value", lineNo, key)
		}

		if dst, ok := scalars[key]; ok {
			v, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: %s: %v", lineNo, key, err)
			}
			*dst = v
			seen[key] = true
			continue
		}
		if dst, ok := coeffs[key]; ok {
			if len(fields) != NumCoeffs {
				return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: %s has %d values, want %d", lineNo, key, len(fields), NumCoeffs)
			}
			for i, f := range fields {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: %s: %v", lineNo, key, err)
				}
				dst[i] = v
			}
			coeffCount[key] = NumCoeffs
			continue
		}
		if i := strings.LastIndexByte(key, '_'); i > 0 {
			if dst, ok := coeffs[key[:i]]; ok {
				idx, err := strconv.Atoi(key[i+1:])
				if err != nil || idx < 1 || idx > NumCoeffs {
					return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: bad coefficient key %s", lineNo, key)
				}
				v, err := strconv.ParseFloat(fields[0], 64)
				if err != nil {
					return Param{}, errors.Wrapf(ErrInvalidParam, "line %d: %s: %v", lineNo, key, err)
				}
				dst[idx-1] = v
				coeffCount[key[:i]]++
				continue
			}
		}
		// Unknown keys such as SATID are ignored.
	}
	if err := sc.Err(); err != nil {
		return Param{}, errors.Wrap(err, "reading RPC text")
	}

	for _, k := range requiredKeys {
		if !seen[k] {
			return Param{}, errors.Wrapf(ErrInvalidParam, "missing %s", k)
		}
	}
	for k := range coeffs {
		if coeffCount[k] != NumCoeffs {
			return Param{}, errors.Wrapf(ErrInvalidParam, "%s has %d of %d coefficients", k, coeffCount[k], NumCoeffs)
		}
	}
	return p, nil
}

// WriteRPCText writes p in the GDAL _RPC.TXT layout.
func WriteRPCText(w io.Writer, p Param) error {
	bw := bufio.NewWriter(w)
	units := []struct {
		key  string
		v    float64
		unit string
	}{
		{"ERR_BIAS", p.ErrBias, "meters"},
		{"ERR_RAND", p.ErrRand, "meters"},
		{"LINE_OFF", p.LineOffset, "pixels"},
		{"SAMP_OFF", p.SampleOffset, "pixels"},
		{"LAT_OFF", p.LatOffset, "degrees"},
		{"LONG_OFF", p.LonOffset, "degrees"},
		{"HEIGHT_OFF", p.HeightOffset, "meters"},
		{"LINE_SCALE", p.LineScale, "pixels"},
		{"SAMP_SCALE", p.SampleScale, "pixels"},
		{"LAT_SCALE", p.LatScale, "degrees"},
		{"LONG_SCALE", p.LonScale, "degrees"},
		{"HEIGHT_SCALE", p.HeightScale, "meters"},
	}
	for _, u := range units {
		fmt.Fprintf(bw, "%s: %s %s\n", u.key, formatFloat(u.v), u.unit)
	}
	for _, c := range []struct {
		key string
		v   *[NumCoeffs]float64
	}{
		{"LINE_NUM_COEFF", &p.LineNum},
		{"LINE_DEN_COEFF", &p.LineDen},
		{"SAMP_NUM_COEFF", &p.SampleNum},
		{"SAMP_DEN_COEFF", &p.SampleDen},
	} {
		for i, v := range c.v {
			fmt.Fprintf(bw, "%s_%d: %s\n", c.key, i+1, formatFloat(v))
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var rpbScalarKeys = map[string]string{
	"ERRBIAS":      "ERR_BIAS",
	"ERRRAND":      "ERR_RAND",
	"LINEOFFSET":   "LINE_OFF",
	"SAMPOFFSET":   "SAMP_OFF",
	"LATOFFSET":    "LAT_OFF",
	"LONGOFFSET":   "LONG_OFF",
	"HEIGHTOFFSET": "HEIGHT_OFF",
	"LINESCALE":    "LINE_SCALE",
	"SAMPSCALE":    "SAMP_SCALE",
	"LATSCALE":     "LAT_SCALE",
	"LONGSCALE":    "LONG_SCALE",
	"HEIGHTSCALE":  "HEIGHT_SCALE",
}

var rpbCoeffKeys = map[string]string{
	"LINENUMCOEF": "LINE_NUM_COEFF",
	"LINEDENCOEF": "LINE_DEN_COEFF",
	"SAMPNUMCOEF": "SAMP_NUM_COEFF",
	"SAMPDENCOEF": "SAMP_DEN_COEFF",
}

// ParseRPB reads a DigitalGlobe .RPB file ("lineOffset = 16201;",
// "lineNumCoef = ( ... );").
func ParseRPB(r io.Reader) (Param, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Param{}, errors.Wrap(err, "reading RPB")
	}
	var p Param
	scalars := scalarFields(&p)
	coeffs := coeffFields(&p)
	seen := map[string]bool{}
	seenCoeffs := map[string]bool{}

	// Statements end with ';'. Coefficient lists span several lines.
	for _, stmt := range strings.Split(string(data), ";") {
		key, value, ok := strings.Cut(stripGroupLines(stmt), "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if name, ok := rpbScalarKeys[key]; ok {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Param{}, errors.Wrapf(ErrInvalidParam, "RPB %s: %v", key, err)
			}
			*scalars[name] = v
			seen[name] = true
			continue
		}
		if name, ok := rpbCoeffKeys[key]; ok {
			value = strings.Trim(value, "()")
			parts := strings.FieldsFunc(value, func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
			})
			if len(parts) != NumCoeffs {
				return Param{}, errors.Wrapf(ErrInvalidParam, "RPB %s has %d values, want %d", key, len(parts), NumCoeffs)
			}
			dst := coeffs[name]
			for i, s := range parts {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return Param{}, errors.Wrapf(ErrInvalidParam, "RPB %s: %v", key, err)
				}
				dst[i] = v
			}
			seenCoeffs[name] = true
		}
	}

	for _, k := range requiredKeys {
		if !seen[k] {
			return Param{}, errors.Wrapf(ErrInvalidParam, "RPB missing %s", k)
		}
	}
	for k := range coeffs {
		if !seenCoeffs[k] {
			return Param{}, errors.Wrapf(ErrInvalidParam, "RPB missing %s", k)
		}
	}
	return p, nil
}

// stripGroupLines drops BEGIN_GROUP/END_GROUP lines, which carry no ';'.
func stripGroupLines(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, l := range lines {
		t := strings.ToUpper(strings.TrimSpace(l))
		if strings.HasPrefix(t, "BEGIN_GROUP") || strings.HasPrefix(t, "END_GROUP") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
