package presenter

import (
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
)

func TestPaginateLastPage(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	page := Paginate(items, 3, 10)
	if page.TotalPages != 3 || page.Total != 25 {
		t.Fatalf("expected 3 pages of 25 items, got %d pages of %d", page.TotalPages, page.Total)
	}
	if len(page.Data) != 5 || page.Data[0] != 20 {
		t.Fatalf("expected items 20..24, got %v", page.Data)
	}
}

func TestPaginatePastEnd(t *testing.T) {
	page := Paginate([]string{"a"}, 4, 10)
	if len(page.Data) != 0 || page.TotalPages != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestPaginateHugePage(t *testing.T) {
	page := Paginate([]int{1, 2, 3}, 922337203685477582, 10)
	if len(page.Data) != 0 || page.Total != 3 || page.TotalPages != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	page = Paginate([]int{1, 2, 3}, math.MaxInt, 2)
	if len(page.Data) != 0 {
		t.Fatalf("expected empty data, got %v", page.Data)
	}

	page = Paginate([]int{1, 2, 3}, 2, 2)
	if len(page.Data) != 1 || page.Data[0] != 3 {
		t.Fatalf("expected last item on page 2, got %v", page.Data)
	}
}

func TestPageParamsParse(t *testing.T) {
	page, limit, err := PageParams{}.Parse(url.Values{})
	if err != nil || page != 1 || limit != 10 {
		t.Fatalf("expected defaults 1/10, got %d/%d (%v)", page, limit, err)
	}

	_, limit, _ = PageParams{}.Parse(url.Values{"limit": {"5000"}})
	if limit != MaxLimit {
		t.Fatalf("expected limit capped at %d, got %d", MaxLimit, limit)
	}

	_, _, err = PageParams{}.Parse(url.Values{"page": {"zero"}})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "page" {
		t.Fatalf("expected page validation error, got %v", err)
	}
}

func TestProdDeploymentShortCommit(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	commit := "abcdef1234567"
	d := &domain.Deployment{
		ID:                "e1",
		BuildkiteBuildURL: "https://bk/1",
		Commit:            &commit,
		StartTime:         start,
		EndTime:           &end,
		Status:            domain.StatusSucceeded,
		Events: []domain.Event{
			{ID: "e1", Type: domain.EventDeploymentStarted, CreatedAt: start},
			{ID: "e2", Type: domain.EventDeploymentSucceeded, CreatedAt: end},
		},
	}
	got := ProdDeployment(d)
	if got.CommitInfo == nil || got.CommitInfo.ShortCommit != "abcdef1" {
		t.Fatalf("expected short commit abcdef1, got %+v", got.CommitInfo)
	}
	if got.EventType != domain.EventDeploymentSucceeded || !got.CreatedAt.Equal(end) {
		t.Fatalf("expected completion anchor, got %s at %v", got.EventType, got.CreatedAt)
	}
	if ProdDeployment(nil) != nil {
		t.Fatal("expected nil for no deployment")
	}
}

func TestFilterByBuildURL(t *testing.T) {
	deps := []domain.Deployment{{ID: "a", BuildkiteBuildURL: "u1"}, {ID: "b", BuildkiteBuildURL: "u2"}}
	got := FilterByBuildURL(deps, " u2 ")
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	if len(FilterByBuildURL(deps, "")) != 2 {
		t.Fatal("expected empty url to keep everything")
	}
}
