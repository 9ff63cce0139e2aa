package training

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// errUndefinedAUC is returned by rocAUC when the labels hold a single class.
var errUndefinedAUC = errors.New("roc auc undefined for a single class")

// PerformanceReport holds held-out evaluation metrics.
type PerformanceReport struct {
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1_score"`
	ROCAUC          float64 `json:"roc_auc"`
	TrainingSamples int     `json:"training_samples"`
	TestSamples     int     `json:"test_samples"`
}

// Evaluate scores probabilities against true labels. Predictions are
// probabilities strictly above threshold. Precision and recall are zero when
// their denominator is zero.
func Evaluate(labels []bool, probabilities []float64, threshold float64) (PerformanceReport, error) {
	if len(labels) == 0 {
		return PerformanceReport{}, ErrEmptyDataset
	}
	if len(labels) != len(probabilities) {
		return PerformanceReport{}, fmt.Errorf("training: %d labels for %d predictions", len(labels), len(probabilities))
	}

	var tp, fp, tn, fn int
	for i, p := range probabilities {
		predicted := p > threshold
		switch {
		case predicted && labels[i]:
			tp++
		case predicted && !labels[i]:
			fp++
		case !predicted && labels[i]:
			fn++
		default:
			tn++
		}
	}

	report := PerformanceReport{
		Accuracy:    float64(tp+tn) / float64(len(labels)),
		Precision:   ratio(tp, tp+fp),
		Recall:      ratio(tp, tp+fn),
		TestSamples: len(labels),
	}
	if report.Precision+report.Recall > 0 {
		report.F1Score = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}

	auc, err := rocAUC(labels, probabilities)
	if err != nil {
		report.ROCAUC = 0.5
		return report, err
	}
	report.ROCAUC = auc
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// rocAUC integrates the ROC curve of probabilities with the trapezoid rule.
func rocAUC(labels []bool, probabilities []float64) (float64, error) {
	y := make([]float64, len(probabilities))
	copy(y, probabilities)
	classes := make([]bool, len(labels))
	copy(classes, labels)

	var positives int
	for _, c := range classes {
		if c {
			positives++
		}
	}
	if positives == 0 || positives == len(classes) {
		return 0, errUndefinedAUC
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}
