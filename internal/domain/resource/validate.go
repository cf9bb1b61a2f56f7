package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no resource exists for an id.
var ErrNotFound = errors.New("resource not found")

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists every field-level problem found on a resource.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "invalid resource: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) add(field, format string, args ...interface{}) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validDelivery = map[DeliveryMethod]bool{
	DeliveryInPerson: true, DeliveryPhone: true, DeliveryVirtual: true,
	DeliveryHomeVisit: true, DeliveryMobile: true,
}

var validCost = map[CostType]bool{
	CostFree: true, CostSlidingScale: true, CostFixedFee: true, CostInsurance: true,
}

var validCapacity = map[CapacityStatus]bool{
	CapacityAvailable: true, CapacityLimited: true, CapacityFull: true, CapacityWaitlist: true,
}

// Validate checks required fields and internal consistency. It returns nil
// when the resource is valid.
func Validate(r *CommunityResource) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(r.Name) == "" {
		errs.add("name", "is required")
	}
	if r.Category == "" {
		errs.add("category", "is required")
	} else if !r.Category.Valid() {
		errs.add("category", "unknown category %q", r.Category)
	}

	for i, s := range r.Services {
		if s.DeliveryMethod != "" && !validDelivery[s.DeliveryMethod] {
			errs.add(fmt.Sprintf("services[%d].delivery_method", i), "unknown delivery method %q", s.DeliveryMethod)
		}
		if s.CostType != "" && !validCost[s.CostType] {
			errs.add(fmt.Sprintf("services[%d].cost_type", i), "unknown cost type %q", s.CostType)
		}
	}

	if e := r.Eligibility; e != nil {
		if e.AgeMin != nil && *e.AgeMin < 0 {
			errs.add("eligibility.age_min", "must not be negative")
		}
		if e.AgeMax != nil && *e.AgeMax < 0 {
			errs.add("eligibility.age_max", "must not be negative")
		}
		if e.AgeMin != nil && e.AgeMax != nil && *e.AgeMin > *e.AgeMax {
			errs.add("eligibility.age_min", "must not exceed age_max")
		}
		if inc := e.Income; inc != nil {
			switch inc.Type {
			case IncomeAbsolute:
				if inc.MaxIncome == nil || *inc.MaxIncome <= 0 {
					errs.add("eligibility.income.max_income", "is required and must be positive for absolute rules")
				}
			case IncomeFPL:
				if inc.Percentage == nil || *inc.Percentage <= 0 {
					errs.add("eligibility.income.percentage", "is required and must be positive for fpl rules")
				}
			default:
				errs.add("eligibility.income.type", "must be %q or %q", IncomeAbsolute, IncomeFPL)
			}
		}
	}

	for i, h := range r.Hours {
		field := fmt.Sprintf("hours[%d]", i)
		if h.Day < 0 || h.Day > 6 {
			errs.add(field+".day", "must be between 0 (Sunday) and 6 (Saturday)")
		}
		open, ok1 := parseClock(h.Open)
		closing, ok2 := parseClock(h.Close)
		if !ok1 {
			errs.add(field+".open", "must be HH:MM")
		}
		if !ok2 {
			errs.add(field+".close", "must be HH:MM")
		}
		if ok1 && ok2 && open >= closing {
			errs.add(field, "open must be before close")
		}
	}

	if c := r.Capacity; c != nil {
		if !validCapacity[c.Status] {
			errs.add("capacity.status", "unknown capacity status %q", c.Status)
		}
		if c.Available != nil && *c.Available < 0 {
			errs.add("capacity.available", "must not be negative")
		}
	}

	if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
		errs.add("rating", "must be between 0 and 5")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
