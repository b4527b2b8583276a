package inference

import "github.com/Yozuusan/Adtest-sub000/adapter"

type heuristicField struct {
	name       adapter.FieldName
	selectors  string
	confidence float64
	strategy   adapter.Strategy
	required   bool
}

// Confidences are tuning constants meaning "moderate trust, heuristic only",
// not calibrated probabilities.
var heuristicFields = []heuristicField{
	{adapter.FieldTitle, "h1, .product-title, .product__title, [data-product-title]", 0.8, adapter.StrategyText, true},
	{adapter.FieldSubtitle, ".product-subtitle, .product__subtitle, h2.subtitle, [data-product-subtitle]", 0.5, adapter.StrategyText, false},
	{adapter.FieldDescription, ".product-description, .product__description, [data-product-description], .rte", 0.7, adapter.StrategyHTML, false},
	{adapter.FieldHeroImage, ".product__media img, .product-featured-image img, .product-single__photo img, img[data-product-image]", 0.6, adapter.StrategyImageSrc, false},
	{adapter.FieldCTA, ".product-form__submit, button[name='add'], [data-add-to-cart], .btn-addtocart", 0.6, adapter.StrategyText, true},
	{adapter.FieldUSPList, ".product-usps, .product__usps ul, [data-usp-list], .product-features ul", 0.5, adapter.StrategyListText, false},
	{adapter.FieldBadges, ".product-badges, .badge, [data-product-badge]", 0.5, adapter.StrategyListText, false},
}

// Heuristic returns the fixed fallback adapter stamped with fingerprint.
// It builds a fresh value from static data on every call and cannot fail.
func Heuristic(fingerprint string) *adapter.Adapter {
	a := &adapter.Adapter{
		Selectors:        make(map[adapter.FieldName]string, len(heuristicFields)),
		Order:            make([]adapter.FieldName, 0, len(heuristicFields)),
		Confidence:       make(map[adapter.FieldName]float64, len(heuristicFields)),
		Strategies:       make(map[adapter.FieldName]adapter.Strategy, len(heuristicFields)),
		FallbackRequired: make(map[adapter.FieldName]bool),
		Fingerprint:      fingerprint,
		Source:           adapter.SourceHeuristic,
	}
	for _, f := range heuristicFields {
		a.Selectors[f.name] = f.selectors
		a.Order = append(a.Order, f.name)
		a.Confidence[f.name] = f.confidence
		a.Strategies[f.name] = f.strategy
		if f.required {
			a.FallbackRequired[f.name] = true
		}
	}
	return a
}
