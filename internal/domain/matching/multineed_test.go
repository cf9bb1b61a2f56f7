package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/sdoh/internal/domain/resource"
)

func TestMatchNeeds_PerNeedInRequestOrder(t *testing.T) {
	req := NeedsRequest{
		Needs:   []resource.Category{resource.CategoryHousing, resource.CategoryFood, resource.CategoryLegal},
		Patient: &PatientContext{Age: intPtr(70)},
	}
	res, err := MatchNeeds(context.Background(), fixtures(), req, monday10am)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Needs) != 3 {
		t.Fatalf("expected 3 need groups, got %d", len(res.Needs))
	}

	housing, food, legal := res.Needs[0], res.Needs[1], res.Needs[2]
	if housing.Need != resource.CategoryHousing || housing.Total != 1 {
		t.Errorf("unexpected housing group %+v", housing)
	}
	if food.Need != resource.CategoryFood || food.Total != 3 {
		t.Errorf("expected 3 active food resources, got %d", food.Total)
	}
	if food.TopMatch == nil || food.TopMatch.Resource.ID != "r-pantry" {
		t.Errorf("expected pantry as food top match, got %+v", food.TopMatch)
	}
	if legal.Total != 0 || legal.TopMatch != nil {
		t.Errorf("expected empty legal group, got %+v", legal)
	}
	for _, r := range food.Results {
		if r.Resource.Category != resource.CategoryFood {
			t.Errorf("non-food resource %s under food", r.Resource.ID)
		}
	}
}

func TestMatchNeeds_SharedFiltersApply(t *testing.T) {
	req := NeedsRequest{
		Needs: []resource.Category{resource.CategoryFood},
		Base:  SearchCriteria{FreeOnly: true, Categories: []resource.Category{resource.CategoryHousing}},
	}
	res, err := MatchNeeds(context.Background(), fixtures(), req, monday10am)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the need replaces the base categories; free-only keeps pantry and hotline
	if res.Needs[0].Total != 2 {
		t.Errorf("expected 2 free food resources, got %d", res.Needs[0].Total)
	}
}

func TestMatchNeeds_MatchesSingleSearch(t *testing.T) {
	patient := &PatientContext{Languages: []string{"Spanish"}}
	res, err := MatchNeeds(context.Background(), fixtures(), NeedsRequest{
		Needs:   []resource.Category{resource.CategoryFood},
		Patient: patient,
	}, monday10am)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	single := FindMatches(fixtures(), SearchCriteria{
		Categories: []resource.Category{resource.CategoryFood},
		Patient:    patient,
	}, monday10am)

	if len(single.Results) != len(res.Needs[0].Results) {
		t.Fatalf("multi-need and single search disagree: %d vs %d", len(single.Results), len(res.Needs[0].Results))
	}
	for i := range single.Results {
		a, b := single.Results[i], res.Needs[0].Results[i]
		if a.Resource.ID != b.Resource.ID || a.MatchScore != b.MatchScore {
			t.Errorf("position %d differs: %s/%d vs %s/%d", i, a.Resource.ID, a.MatchScore, b.Resource.ID, b.MatchScore)
		}
	}
}

func TestMatchNeeds_Validation(t *testing.T) {
	if _, err := MatchNeeds(context.Background(), fixtures(), NeedsRequest{}, monday10am); !errors.Is(err, ErrNoNeeds) {
		t.Errorf("expected ErrNoNeeds, got %v", err)
	}
	_, err := MatchNeeds(context.Background(), fixtures(), NeedsRequest{Needs: []resource.Category{"spaceships"}}, monday10am)
	if err == nil {
		t.Error("expected error for an unknown need")
	}
}

func TestMatchNeeds_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MatchNeeds(ctx, fixtures(), NeedsRequest{Needs: []resource.Category{resource.CategoryFood}}, monday10am)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
