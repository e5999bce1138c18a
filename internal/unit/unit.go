// Package unit is the single definition of package-type weights. Order
// creation, inventory upserts and alert evaluation all convert through
// this table; nothing else may hold its own weight literals.
package unit

import "gudangkopi/internal/domain"

type PackageType string

const (
	SmallEspresso  PackageType = "small_espresso"
	SmallFilter    PackageType = "small_filter"
	MediumEspresso PackageType = "medium_espresso"
	MediumFilter   PackageType = "medium_filter"
	LargeBags      PackageType = "large_bags"
)

// Espresso and filter variants share their size-class weight; the split
// is operational, not a different package.
const (
	smallBagGrams  int64 = 200
	mediumBagGrams int64 = 500
	largeBagGrams  int64 = 1000
)

func WeightGrams(p PackageType) int64 {
	switch p {
	case SmallEspresso, SmallFilter:
		return smallBagGrams
	case MediumEspresso, MediumFilter:
		return mediumBagGrams
	case LargeBags:
		return largeBagGrams
	}
	return 0
}

// TotalGrams converts a set of package counts to its retail weight.
func TotalGrams(c domain.PackageCounts) int64 {
	return int64(c.SmallEspresso)*smallBagGrams +
		int64(c.SmallFilter)*smallBagGrams +
		int64(c.MediumEspresso)*mediumBagGrams +
		int64(c.MediumFilter)*mediumBagGrams +
		int64(c.LargeBags)*largeBagGrams
}

// All lists every package type in a stable order.
func All() []PackageType {
	return []PackageType{SmallEspresso, SmallFilter, MediumEspresso, MediumFilter, LargeBags}
}

// Count extracts the counter for one package type from a counts row.
func Count(c domain.PackageCounts, p PackageType) int {
	switch p {
	case SmallEspresso:
		return c.SmallEspresso
	case SmallFilter:
		return c.SmallFilter
	case MediumEspresso:
		return c.MediumEspresso
	case MediumFilter:
		return c.MediumFilter
	case LargeBags:
		return c.LargeBags
	}
	return 0
}
