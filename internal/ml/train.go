package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Offline fitting. Both fitters standardize features first and emit the same
// linear-decision artifact format that PredictProba consumes, so training and
// serving share one code path for inference.

// FitLDA fits a linear discriminant classifier: class means over a pooled
// within-class covariance, solved with a Cholesky factorization. A small
// ridge term keeps the covariance positive definite when features are
// strongly correlated.
func FitLDA(X [][]float64, y []string) (*Pipeline, error) {
	if err := checkTrainingSet(X, y); err != nil {
		return nil, err
	}
	n, d := len(X), len(X[0])

	scaler := fitScaler(X)
	Z := transformAll(scaler, X)

	classes := uniqueSorted(y)
	k := len(classes)
	if k < 2 {
		return nil, fmt.Errorf("ml: need at least 2 classes, got %d", k)
	}
	if n <= k {
		return nil, fmt.Errorf("ml: %d samples for %d classes", n, k)
	}
	idx := make(map[string]int, k)
	for i, c := range classes {
		idx[c] = i
	}

	// Class means and priors.
	means := make([][]float64, k)
	counts := make([]int, k)
	for i := range means {
		means[i] = make([]float64, d)
	}
	for i, row := range Z {
		c := idx[y[i]]
		counts[c]++
		for j, v := range row {
			means[c][j] += v
		}
	}
	for c := range means {
		if counts[c] == 0 {
			return nil, fmt.Errorf("ml: class %q has no samples", classes[c])
		}
		for j := range means[c] {
			means[c][j] /= float64(counts[c])
		}
	}

	// Pooled within-class covariance with ridge regularization.
	cov := mat.NewSymDense(d, nil)
	for i, row := range Z {
		mu := means[idx[y[i]]]
		for a := 0; a < d; a++ {
			da := row[a] - mu[a]
			for b := a; b < d; b++ {
				cov.SetSym(a, b, cov.At(a, b)+da*(row[b]-mu[b]))
			}
		}
	}
	norm := 1 / float64(n-k)
	for a := 0; a < d; a++ {
		for b := a; b < d; b++ {
			cov.SetSym(a, b, cov.At(a, b)*norm)
		}
	}

	const ridge = 1e-4
	var chol mat.Cholesky
	for attempt, eps := 0, ridge; ; attempt, eps = attempt+1, eps*10 {
		shifted := mat.NewSymDense(d, nil)
		shifted.CopySym(cov)
		for a := 0; a < d; a++ {
			shifted.SetSym(a, a, shifted.At(a, a)+eps)
		}
		if chol.Factorize(shifted) {
			break
		}
		if attempt >= 6 {
			return nil, fmt.Errorf("ml: pooled covariance not positive definite")
		}
	}

	coef := make([][]float64, k)
	intercept := make([]float64, k)
	for c := 0; c < k; c++ {
		mu := mat.NewVecDense(d, append([]float64(nil), means[c]...))
		w := mat.NewVecDense(d, nil)
		if err := chol.SolveVecTo(w, mu); err != nil {
			return nil, fmt.Errorf("ml: solve discriminant for class %q: %w", classes[c], err)
		}
		coef[c] = make([]float64, d)
		var muW float64
		for j := 0; j < d; j++ {
			coef[c][j] = w.AtVec(j)
			muW += means[c][j] * w.AtVec(j)
		}
		intercept[c] = -0.5*muW + math.Log(float64(counts[c])/float64(n))
	}

	return &Pipeline{
		Kind:      KindLDA,
		Classes:   classes,
		Scaler:    scaler,
		Coef:      coef,
		Intercept: intercept,
	}, nil
}

// FitLogReg fits a multinomial logistic regression by full-batch gradient
// descent with L2 regularization. Zero initialization and a fixed iteration
// count keep the fit deterministic.
func FitLogReg(X [][]float64, y []string) (*Pipeline, error) {
	if err := checkTrainingSet(X, y); err != nil {
		return nil, err
	}
	n, d := len(X), len(X[0])

	scaler := fitScaler(X)
	Z := transformAll(scaler, X)

	classes := uniqueSorted(y)
	k := len(classes)
	if k < 2 {
		return nil, fmt.Errorf("ml: need at least 2 classes, got %d", k)
	}
	idx := make(map[string]int, k)
	for i, c := range classes {
		idx[c] = i
	}

	const (
		iterations = 500
		learnRate  = 0.5
		l2         = 1e-3
	)

	coef := make([][]float64, k)
	for c := range coef {
		coef[c] = make([]float64, d)
	}
	intercept := make([]float64, k)

	scores := make([]float64, k)
	gradW := make([][]float64, k)
	for c := range gradW {
		gradW[c] = make([]float64, d)
	}
	gradB := make([]float64, k)

	for it := 0; it < iterations; it++ {
		for c := 0; c < k; c++ {
			for j := 0; j < d; j++ {
				gradW[c][j] = l2 * coef[c][j]
			}
			gradB[c] = 0
		}

		for i, row := range Z {
			for c := 0; c < k; c++ {
				z := intercept[c]
				for j, v := range row {
					z += coef[c][j] * v
				}
				scores[c] = z
			}
			probs := softmax(scores)
			target := idx[y[i]]
			for c := 0; c < k; c++ {
				delta := probs[c]
				if c == target {
					delta -= 1
				}
				delta /= float64(n)
				for j, v := range row {
					gradW[c][j] += delta * v
				}
				gradB[c] += delta
			}
		}

		for c := 0; c < k; c++ {
			for j := 0; j < d; j++ {
				coef[c][j] -= learnRate * gradW[c][j]
			}
			intercept[c] -= learnRate * gradB[c]
		}
	}

	return &Pipeline{
		Kind:      KindLogReg,
		Classes:   classes,
		Scaler:    scaler,
		Coef:      coef,
		Intercept: intercept,
	}, nil
}

func checkTrainingSet(X [][]float64, y []string) error {
	if len(X) == 0 {
		return fmt.Errorf("ml: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("ml: %d samples but %d labels", len(X), len(y))
	}
	d := len(X[0])
	if d == 0 {
		return fmt.Errorf("ml: empty feature vectors")
	}
	for i, row := range X {
		if len(row) != d {
			return fmt.Errorf("ml: sample %d has %d features, want %d", i, len(row), d)
		}
	}
	return nil
}

func fitScaler(X [][]float64) Scaler {
	n, d := len(X), len(X[0])
	mean := make([]float64, d)
	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	scale := make([]float64, d)
	for _, row := range X {
		for j, v := range row {
			dv := v - mean[j]
			scale[j] += dv * dv
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(n))
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return Scaler{Mean: mean, Scale: scale}
}

func transformAll(s Scaler, X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}

func uniqueSorted(labels []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
