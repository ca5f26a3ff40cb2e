// Package report summarizes an evaluation run per class and draws it as a bar chart.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"slices"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrShape is returned when labels and predictions differ in length.
var ErrShape = errors.New("report: labels and predictions differ in length")

// ClassAccuracy is the evaluation outcome for one class.
type ClassAccuracy struct {
	Class    int
	Support  int
	Correct  int
	Accuracy float64
}

// PerClass groups predictions by true label, ordered by class.
func PerClass(want, got []int) ([]ClassAccuracy, error) {
	if len(want) != len(got) {
		return nil, fmt.Errorf("%w: %d labels, %d predictions", ErrShape, len(want), len(got))
	}
	byClass := map[int]*ClassAccuracy{}
	for i, y := range want {
		ca, ok := byClass[y]
		if !ok {
			ca = &ClassAccuracy{Class: y}
			byClass[y] = ca
		}
		ca.Support++
		if got[i] == y {
			ca.Correct++
		}
	}

	out := make([]ClassAccuracy, 0, len(byClass))
	for _, ca := range byClass {
		ca.Accuracy = float64(ca.Correct) / float64(ca.Support)
		out = append(out, *ca)
	}
	slices.SortFunc(out, func(a, b ClassAccuracy) int { return a.Class - b.Class })

	return out, nil
}

// SaveChart draws one bar per class with the overall score as a dashed line. The image
// format follows the extension of path (png, svg, pdf, ...).
func SaveChart(path string, classes []ClassAccuracy, score float64) error {
	if len(classes) == 0 {
		return errors.New("report: nothing to draw")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Test accuracy per class (overall %.4f)", score)
	p.X.Label.Text = "class"
	p.Y.Label.Text = "accuracy"
	p.Y.Min, p.Y.Max = 0, 1

	values := make(plotter.Values, len(classes))
	names := make([]string, len(classes))
	for i, ca := range classes {
		values[i] = ca.Accuracy
		names[i] = strconv.Itoa(ca.Class)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return fmt.Errorf("report: bars: %w", err)
	}
	bars.Color = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	overall, err := plotter.NewLine(plotter.XYs{
		{X: -0.5, Y: score},
		{X: float64(len(classes)) - 0.5, Y: score},
	})
	if err != nil {
		return fmt.Errorf("report: overall line: %w", err)
	}
	overall.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(overall)
	p.Legend.Add("overall", overall)
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("report: saving %s: %w", path, err)
	}

	return nil
}
