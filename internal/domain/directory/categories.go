package directory

import (
	"sort"
	"strings"

	"github.com/ehr/sdoh/internal/domain/resource"
)

// CategoryMap translates a provider's classification into catalog
// categories. Lookups run taxonomy code prefixes first, then exact terms,
// then the shared keyword table, and fall back to CategoryOther.
type CategoryMap struct {
	Prefixes map[string]resource.Category
	Terms    map[string]resource.Category
}

type keywordCategory struct {
	keyword  string
	category resource.Category
}

// keywords is scanned in order; more specific phrases come first.
var keywords = []keywordCategory{
	{"mental health", resource.CategoryMentalHealth},
	{"counseling", resource.CategoryMentalHealth},
	{"substance", resource.CategorySubstanceUse},
	{"addiction", resource.CategorySubstanceUse},
	{"recovery", resource.CategorySubstanceUse},
	{"domestic violence", resource.CategorySafety},
	{"abuse", resource.CategorySafety},
	{"child care", resource.CategoryChildcare},
	{"childcare", resource.CategoryChildcare},
	{"daycare", resource.CategoryChildcare},
	{"personal care", resource.CategoryPersonalCare},
	{"hygiene", resource.CategoryPersonalCare},
	{"food", resource.CategoryFood},
	{"meal", resource.CategoryFood},
	{"pantry", resource.CategoryFood},
	{"grocer", resource.CategoryFood},
	{"nutrition", resource.CategoryFood},
	{"shelter", resource.CategoryHousing},
	{"housing", resource.CategoryHousing},
	{"rental", resource.CategoryHousing},
	{"transport", resource.CategoryTransportation},
	{"transit", resource.CategoryTransportation},
	{"rides", resource.CategoryTransportation},
	{"utilit", resource.CategoryUtilities},
	{"electric", resource.CategoryUtilities},
	{"heating", resource.CategoryUtilities},
	{"employment", resource.CategoryEmployment},
	{"job", resource.CategoryEmployment},
	{"career", resource.CategoryEmployment},
	{"education", resource.CategoryEducation},
	{"literacy", resource.CategoryEducation},
	{"tutor", resource.CategoryEducation},
	{"legal", resource.CategoryLegal},
	{"attorney", resource.CategoryLegal},
	{"medical", resource.CategoryHealthcare},
	{"clinic", resource.CategoryHealthcare},
	{"dental", resource.CategoryHealthcare},
	{"health", resource.CategoryHealthcare},
	{"financial", resource.CategoryFinancial},
	{"cash assistance", resource.CategoryFinancial},
	{"tax prep", resource.CategoryFinancial},
	{"clothing", resource.CategoryClothing},
	{"clothes", resource.CategoryClothing},
	{"support group", resource.CategorySocialSupport},
	{"companionship", resource.CategorySocialSupport},
}

// findhelpCategories keys on findhelp's top-level service tags.
var findhelpCategories = CategoryMap{
	Terms: map[string]resource.Category{
		"food":      resource.CategoryFood,
		"housing":   resource.CategoryHousing,
		"goods":     resource.CategoryClothing,
		"transit":   resource.CategoryTransportation,
		"health":    resource.CategoryHealthcare,
		"money":     resource.CategoryFinancial,
		"care":      resource.CategorySocialSupport,
		"education": resource.CategoryEducation,
		"work":      resource.CategoryEmployment,
		"legal":     resource.CategoryLegal,
	},
}

// twoOneOneCategories keys on AIRS/211 taxonomy code prefixes.
var twoOneOneCategories = CategoryMap{
	Prefixes: map[string]resource.Category{
		"BD":      resource.CategoryFood,
		"BH":      resource.CategoryHousing,
		"BM-6500": resource.CategoryClothing,
		"BT":      resource.CategoryTransportation,
		"BV":      resource.CategoryUtilities,
		"F":       resource.CategoryLegal,
		"H":       resource.CategoryEducation,
		"J":       resource.CategorySafety,
		"L":       resource.CategoryHealthcare,
		"ND":      resource.CategoryEmployment,
		"N":       resource.CategoryFinancial,
		"PH-1250": resource.CategoryChildcare,
		"PS":      resource.CategorySocialSupport,
		"RX":      resource.CategorySubstanceUse,
		"R":       resource.CategoryMentalHealth,
	},
}

// Map returns the category for the given taxonomy codes and free-text
// terms.
func (m CategoryMap) Map(codes, terms []string) resource.Category {
	if c, ok := m.byPrefix(codes); ok {
		return c
	}
	for _, t := range terms {
		if c, ok := m.Terms[strings.ToLower(strings.TrimSpace(t))]; ok {
			return c
		}
	}
	for _, t := range terms {
		if c, ok := byKeyword(t); ok {
			return c
		}
	}
	return resource.CategoryOther
}

// byPrefix tries each code in order against the longest matching prefix.
func (m CategoryMap) byPrefix(codes []string) (resource.Category, bool) {
	if len(m.Prefixes) == 0 {
		return "", false
	}
	prefixes := make([]string, 0, len(m.Prefixes))
	for p := range m.Prefixes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		for _, p := range prefixes {
			if strings.HasPrefix(code, p) {
				return m.Prefixes[p], true
			}
		}
	}
	return "", false
}

func byKeyword(term string) (resource.Category, bool) {
	t := strings.ToLower(term)
	for _, k := range keywords {
		if strings.Contains(t, k.keyword) {
			return k.category, true
		}
	}
	return "", false
}
