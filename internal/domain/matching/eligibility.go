package matching

import (
	"fmt"
	"strings"

	"github.com/ehr/sdoh/internal/domain/resource"
)

// Federal poverty guideline for the contiguous US: base amount for a single
// person plus an increment for each additional household member.
const (
	FPLBase           = 15060.0
	FPLPerExtraPerson = 5380.0
)

// FPLAmount returns 100% of the federal poverty level for a household.
func FPLAmount(householdSize int) float64 {
	return FPLBase + float64(householdSize-1)*FPLPerExtraPerson
}

// FPLThreshold returns the income cap for a household at percentage of FPL.
func FPLThreshold(householdSize int, percentage float64) float64 {
	return FPLAmount(householdSize) * percentage / 100
}

// EligibilityResult is advisory. Matching never drops a resource because
// Eligible is false.
type EligibilityResult struct {
	Eligible          bool     `json:"eligible"`
	Reasons           []string `json:"reasons"`
	MissingInfo       []string `json:"missing_info"`
	PotentialBarriers []string `json:"potential_barriers"`
}

// CheckEligibility compares the resource's rules with what is known about
// the patient. Every rule is evaluated; hard failures clear Eligible,
// soft mismatches are only noted as barriers, and absent patient facts are
// listed in MissingInfo.
func CheckEligibility(rules *resource.Eligibility, p *PatientContext) EligibilityResult {
	res := EligibilityResult{
		Eligible:          true,
		Reasons:           []string{},
		MissingInfo:       []string{},
		PotentialBarriers: []string{},
	}
	if rules == nil {
		return res
	}
	if p == nil {
		p = &PatientContext{}
	}

	checkAge(rules, p, &res)
	checkIncome(rules.Income, p, &res)
	checkInsurance(rules.InsuranceAccepted, p, &res)
	checkServiceArea(rules.ServiceArea, p, &res)

	for _, req := range rules.Requirements {
		res.Reasons = append(res.Reasons, "Requirement: "+req)
	}
	if len(rules.DocumentsRequired) > 0 {
		res.Reasons = append(res.Reasons, "Documents required: "+strings.Join(rules.DocumentsRequired, ", "))
	}
	return res
}

func checkAge(rules *resource.Eligibility, p *PatientContext, res *EligibilityResult) {
	if rules.AgeMin == nil && rules.AgeMax == nil {
		return
	}
	if p.Age == nil {
		res.MissingInfo = append(res.MissingInfo, "age")
		return
	}
	age := *p.Age
	switch {
	case rules.AgeMin != nil && age < *rules.AgeMin:
		res.Eligible = false
		res.PotentialBarriers = append(res.PotentialBarriers,
			fmt.Sprintf("Age %d is below the minimum age of %d", age, *rules.AgeMin))
	case rules.AgeMax != nil && age > *rules.AgeMax:
		res.Eligible = false
		res.PotentialBarriers = append(res.PotentialBarriers,
			fmt.Sprintf("Age %d is above the maximum age of %d", age, *rules.AgeMax))
	default:
		res.Reasons = append(res.Reasons, "Meets age requirement")
	}
}

func checkIncome(rule *resource.IncomeRule, p *PatientContext, res *EligibilityResult) {
	if rule == nil {
		return
	}
	var (
		limit float64
		label string
	)
	switch rule.Type {
	case resource.IncomeAbsolute:
		if rule.MaxIncome == nil {
			return
		}
		if p.Income == nil {
			res.MissingInfo = append(res.MissingInfo, "income")
			return
		}
		limit = *rule.MaxIncome
		label = fmt.Sprintf("$%.0f", limit)
	case resource.IncomeFPL:
		if rule.Percentage == nil {
			return
		}
		missing := false
		if p.Income == nil {
			res.MissingInfo = append(res.MissingInfo, "income")
			missing = true
		}
		if p.HouseholdSize == nil || *p.HouseholdSize < 1 {
			res.MissingInfo = append(res.MissingInfo, "household_size")
			missing = true
		}
		if missing {
			return
		}
		limit = FPLThreshold(*p.HouseholdSize, *rule.Percentage)
		label = fmt.Sprintf("%.0f%% FPL ($%.0f for a household of %d)", *rule.Percentage, limit, *p.HouseholdSize)
	default:
		return
	}

	if *p.Income <= limit {
		res.Reasons = append(res.Reasons, "Income within limit of "+label)
		return
	}
	res.Eligible = false
	res.PotentialBarriers = append(res.PotentialBarriers,
		fmt.Sprintf("Income $%.0f exceeds limit of %s", *p.Income, label))
}

func checkInsurance(accepted []string, p *PatientContext, res *EligibilityResult) {
	if len(accepted) == 0 {
		return
	}
	if p.Insurance == nil || *p.Insurance == "" {
		res.MissingInfo = append(res.MissingInfo, "insurance")
		return
	}
	if containsFold(accepted, *p.Insurance) {
		res.Reasons = append(res.Reasons, "Accepts "+*p.Insurance+" insurance")
		return
	}
	res.PotentialBarriers = append(res.PotentialBarriers,
		fmt.Sprintf("Insurance %q is not listed as accepted", *p.Insurance))
}

func checkServiceArea(area []string, p *PatientContext, res *EligibilityResult) {
	if len(area) == 0 {
		return
	}
	if p.Zip == "" && p.City == "" {
		res.MissingInfo = append(res.MissingInfo, "location")
		return
	}
	if (p.Zip != "" && containsFold(area, p.Zip)) || (p.City != "" && containsFold(area, p.City)) {
		res.Reasons = append(res.Reasons, "Within service area")
		return
	}
	res.PotentialBarriers = append(res.PotentialBarriers, "Outside the listed service area")
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
