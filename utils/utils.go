package utils

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"

	su "github.com/setanarut/spectralunmix"
)

// ReadSampleCSV parses an event table: a header of detector names followed by
// one row of intensities per event.
func ReadSampleCSV(r io.Reader, name string) (su.Sample, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return su.Sample{}, fmt.Errorf("read sample %q: %w", name, err)
	}
	if len(records) == 0 {
		return su.Sample{}, fmt.Errorf("read sample %q: missing header", name)
	}
	rows := make([][]float64, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := parseFloats(rec)
		if err != nil {
			return su.Sample{}, fmt.Errorf("read sample %q line %d: %w", name, i+2, err)
		}
		rows = append(rows, row)
	}
	return su.NewSample(name, records[0], rows)
}

func ReadSampleCSVFile(path, name string) (su.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return su.Sample{}, err
	}
	defer f.Close()
	return ReadSampleCSV(f, name)
}

// WriteMatrixCSV writes one row per detector under a "RowName,<labels>" header.
func WriteMatrixCSV(w io.Writer, mm *su.MixingMatrix) error {
	cw := csv.NewWriter(w)
	labels := mm.Labels()
	if err := cw.Write(append([]string{"RowName"}, labels...)); err != nil {
		return err
	}
	rec := make([]string, len(labels)+1)
	for i, d := range mm.Detectors() {
		rec[0] = d
		for j := range labels {
			rec[j+1] = formatFloat(mm.At(i, j))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMatrixCSV parses the WriteMatrixCSV layout. afLabel names the
// autofluorescence column, which ends up last whatever its file position.
func ReadMatrixCSV(r io.Reader, afLabel string) (*su.MixingMatrix, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("read matrix: %w: no detectors or labels", su.ErrDimensionMismatch)
	}
	labels := records[0][1:]
	detectors := make([]string, 0, len(records)-1)
	data := mat.NewDense(len(records)-1, len(labels), nil)
	for i, rec := range records[1:] {
		detectors = append(detectors, rec[0])
		row, err := parseFloats(rec[1:])
		if err != nil {
			return nil, fmt.Errorf("read matrix line %d: %w", i+2, err)
		}
		data.SetRow(i, row)
	}
	return su.NewMixingMatrix(detectors, labels, data, afLabel)
}

func WriteMatrixCSVFile(path string, mm *su.MixingMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteMatrixCSV(f, mm); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ReadMatrixCSVFile(path, afLabel string) (*su.MixingMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMatrixCSV(f, afLabel)
}

// WriteAbundanceCSV writes one row per event with a header of label names.
// Unresolved events are written as NaN.
func WriteAbundanceCSV(w io.Writer, t *su.AbundanceTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Labels); err != nil {
		return err
	}
	rec := make([]string, len(t.Labels))
	for i := range t.Resolved {
		for j := range rec {
			rec[j] = formatFloat(t.Abundances.At(i, j))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteAbundanceCSVFile(path string, t *su.AbundanceTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteAbundanceCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Heatmap renders the mixing matrix as tiles, one row per detector and one
// column per label. Values are clamped to [0,1] and blended in Lab space from
// low to high.
func Heatmap(mm *su.MixingMatrix, tileSize int, low, high colorful.Color) *image.RGBA {
	if tileSize <= 0 {
		tileSize = 16
	}
	rows, cols := mm.Dims()
	img := image.NewRGBA(image.Rect(0, 0, cols*tileSize, rows*tileSize))
	for i := range rows {
		for j := range cols {
			t := max(0, min(1, mm.At(i, j)))
			r, g, b := low.BlendLab(high, t).Clamped().RGB255()
			c := color.RGBA{R: r, G: g, B: b, A: 255}
			for y := i * tileSize; y < (i+1)*tileSize; y++ {
				for x := j * tileSize; x < (j+1)*tileSize; x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

// SaveHeatmap renders mm from dark blue to yellow and writes it as PNG.
func SaveHeatmap(mm *su.MixingMatrix, tileSize int, filename string) error {
	low, _ := colorful.Hex("#1a1a5e")
	high, _ := colorful.Hex("#f9e721")
	return SaveImage(Heatmap(mm, tileSize, low, high), filename)
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func parseFloats(rec []string) ([]float64, error) {
	out := make([]float64, len(rec))
	for i, s := range rec {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
