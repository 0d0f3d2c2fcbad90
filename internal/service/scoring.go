package service

import (
	"math"
	"strings"

	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
)

// garmentSignals are the comparable vectors extracted from a garment's stored
// embeddings: the text-derived proxy (image ordinal zero) and the primary
// image embedding.
type garmentSignals struct {
	textProxy    domain.Vector
	primaryImage domain.Vector
}

// splitSignals picks the scoring vectors out of a garment's embedding rows.
func splitSignals(embs []domain.GarmentEmbedding) garmentSignals {
	var s garmentSignals
	for i := range embs {
		e := &embs[i]
		if e.ImageOrdinal == domain.TextProxyOrdinal && s.textProxy == nil {
			s.textProxy = e.Vector
		}
		if e.IsPrimary && e.ImageOrdinal != domain.TextProxyOrdinal {
			s.primaryImage = e.Vector
		}
	}
	return s
}

// cosine computes cosine similarity between two vectors. Errors are scoring
// errors: the matching engine isolates them per candidate.
func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, apperr.Scoringf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, apperr.Scoringf("zero-norm vector")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// clamp01 clamps negative similarities to zero. Embeddings in this domain are
// not expected to be meaningfully anti-correlated.
func clamp01(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// evaluation is the outcome of scoring one (alert, garment) candidate pair.
type evaluation struct {
	Score   float64
	Reasons []string
}

// scorePair computes the mode-dependent similarity score for an alert against
// a garment's signals. The second return is false when the candidate has no
// comparable embedding for the alert's mode and must be skipped.
func scorePair(alert *domain.SearchAlert, signals garmentSignals) (float64, []string, bool, error) {
	var simText, simImage float64
	var haveText, haveImage bool

	if len(alert.TextEmbedding) > 0 && signals.textProxy != nil {
		sim, err := cosine(alert.TextEmbedding, signals.textProxy)
		if err != nil {
			return 0, nil, false, err
		}
		simText = clamp01(sim)
		haveText = true
	}
	if len(alert.ImageEmbedding) > 0 && signals.primaryImage != nil {
		sim, err := cosine(alert.ImageEmbedding, signals.primaryImage)
		if err != nil {
			return 0, nil, false, err
		}
		simImage = clamp01(sim)
		haveImage = true
	}

	switch alert.MatchMode {
	case domain.MatchModeText:
		if !haveText {
			return 0, nil, false, nil
		}
		return simText, []string{domain.ReasonTextSimilarity}, true, nil
	case domain.MatchModeImage:
		if !haveImage {
			return 0, nil, false, nil
		}
		return simImage, []string{domain.ReasonImageSimilarity}, true, nil
	case domain.MatchModeHybrid:
		// Graceful degradation: score whichever side is computable and
		// record the contributing signals.
		switch {
		case haveText && haveImage:
			return 0.5*simText + 0.5*simImage,
				[]string{domain.ReasonTextSimilarity, domain.ReasonImageSimilarity}, true, nil
		case haveText:
			return simText, []string{domain.ReasonTextSimilarity}, true, nil
		case haveImage:
			return simImage, []string{domain.ReasonImageSimilarity}, true, nil
		default:
			return 0, nil, false, nil
		}
	}
	return 0, nil, false, apperr.Scoringf("unknown match mode %q", alert.MatchMode)
}

// passFilters checks the alert's declared metadata filters against the
// garment. All declared filters must hold; the returned tags name the filters
// that were declared and passed, in a stable order.
func passFilters(alert *domain.SearchAlert, garment *domain.Garment) ([]string, bool) {
	var reasons []string

	if alert.MaxPrice != nil {
		if garment.Price == nil || *garment.Price > *alert.MaxPrice {
			return nil, false
		}
		reasons = append(reasons, domain.ReasonPriceMatch)
	}
	if alert.Category != "" {
		if garment.Category != alert.Category {
			return nil, false
		}
		reasons = append(reasons, domain.ReasonCategoryMatch)
	}
	if alert.ConditionMin != "" {
		if !garment.Condition.AtLeast(alert.ConditionMin) {
			return nil, false
		}
		reasons = append(reasons, domain.ReasonConditionMatch)
	}
	if alert.Size != "" {
		if !strings.EqualFold(garment.Size, alert.Size) {
			return nil, false
		}
		reasons = append(reasons, domain.ReasonSizeMatch)
	}
	return reasons, true
}

// evaluatePair runs the full acceptance rule for one candidate: comparable
// signals, filter pass, and inclusive threshold. ok is false when the
// candidate is rejected or skipped.
func evaluatePair(alert *domain.SearchAlert, garment *domain.Garment, signals garmentSignals) (evaluation, bool, error) {
	score, signalReasons, comparable, err := scorePair(alert, signals)
	if err != nil || !comparable {
		return evaluation{}, false, err
	}

	filterReasons, pass := passFilters(alert, garment)
	if !pass {
		return evaluation{}, false, nil
	}
	if score < alert.SimilarityThreshold {
		return evaluation{}, false, nil
	}

	return evaluation{
		Score:   score,
		Reasons: append(signalReasons, filterReasons...),
	}, true, nil
}
