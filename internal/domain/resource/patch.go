package resource

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Name              *string            `json:"name,omitempty"`
	Description       *string            `json:"description,omitempty"`
	OrganizationName  *string            `json:"organization_name,omitempty"`
	Category          *Category          `json:"category,omitempty"`
	Subcategories     *[]string          `json:"subcategories,omitempty"`
	TaxonomyCodes     *[]string          `json:"taxonomy_codes,omitempty"`
	Tags              *[]string          `json:"tags,omitempty"`
	Locations         *[]Location        `json:"locations,omitempty"`
	Services          *[]ServiceOffering `json:"services,omitempty"`
	Eligibility       *Eligibility       `json:"eligibility,omitempty"`
	Hours             *[]OperatingHours  `json:"hours,omitempty"`
	Languages         *[]string          `json:"languages,omitempty"`
	Accessibility     *Accessibility     `json:"accessibility,omitempty"`
	Contact           *Contact           `json:"contact,omitempty"`
	AcceptsReferrals  *bool              `json:"accepts_referrals,omitempty"`
	ClosedLoopEnabled *bool              `json:"closed_loop_enabled,omitempty"`
	Capacity          *Capacity          `json:"capacity,omitempty"`
	Rating            *float64           `json:"rating,omitempty"`
	ReviewCount       *int               `json:"review_count,omitempty"`
	IsActive          *bool              `json:"is_active,omitempty"`
}

// Apply merges the patch into r.
func (p *Patch) Apply(r *CommunityResource) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.OrganizationName != nil {
		r.OrganizationName = *p.OrganizationName
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Subcategories != nil {
		r.Subcategories = cloneSlice(*p.Subcategories)
	}
	if p.TaxonomyCodes != nil {
		r.TaxonomyCodes = cloneSlice(*p.TaxonomyCodes)
	}
	if p.Tags != nil {
		r.Tags = cloneSlice(*p.Tags)
	}
	if p.Locations != nil {
		r.Locations = cloneSlice(*p.Locations)
	}
	if p.Services != nil {
		r.Services = cloneSlice(*p.Services)
	}
	if p.Eligibility != nil {
		e := *p.Eligibility
		r.Eligibility = &e
	}
	if p.Hours != nil {
		r.Hours = cloneSlice(*p.Hours)
	}
	if p.Languages != nil {
		r.Languages = cloneSlice(*p.Languages)
	}
	if p.Accessibility != nil {
		r.Accessibility = *p.Accessibility
	}
	if p.Contact != nil {
		r.Contact = *p.Contact
	}
	if p.AcceptsReferrals != nil {
		r.AcceptsReferrals = *p.AcceptsReferrals
	}
	if p.ClosedLoopEnabled != nil {
		r.ClosedLoopEnabled = *p.ClosedLoopEnabled
	}
	if p.Capacity != nil {
		c := *p.Capacity
		r.Capacity = &c
	}
	if p.Rating != nil {
		v := *p.Rating
		r.Rating = &v
	}
	if p.ReviewCount != nil {
		r.ReviewCount = *p.ReviewCount
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
}
