package selector

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"authtrace/internal/model"
	"authtrace/internal/rules"

	json "github.com/goccy/go-json"
)

func mustEvent(t *testing.T, raw string) model.Event {
	t.Helper()
	var ev model.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("bad test event: %v", err)
	}
	return ev
}

func reqEvent(t *testing.T, id, postData string) model.Event {
	t.Helper()
	p, _ := json.Marshal(postData)
	return mustEvent(t, fmt.Sprintf(
		`{"type":"Network.requestWillBeSent","data":{"requestId":%q,"request":{"url":"https://example.com/x","hasPostData":true,"postData":%s}}}`, id, p))
}

func TestHeuristicContract(t *testing.T) {
	candidates := []model.Event{
		reqEvent(t, "r-1", "a=1"),
		reqEvent(t, "r-2", "b=2"),
		reqEvent(t, "r-3", "c=3"),
		reqEvent(t, "r-4", "d=4"),
	}
	verdicts := map[string]rules.Verdict{
		"r-2": {Keep: true, Category: rules.CategoryLogin},
		"r-4": {Keep: true, Category: rules.CategoryKeyword},
	}

	got, err := NewHeuristic(verdicts).Select(context.Background(), candidates, 2)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if len(got) > 2 {
		t.Fatalf("result exceeds k: %v", got)
	}
	seen := map[string]bool{}
	known := map[string]bool{"r-1": true, "r-2": true, "r-3": true, "r-4": true}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %q in %v", id, got)
		}
		seen[id] = true
		if !known[id] {
			t.Fatalf("unknown id %q in %v", id, got)
		}
	}

	// login(60) > keyword(25) > default(0)
	want := []string{"r-2", "r-4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Select() = %v, want %v", got, want)
	}
}

func TestHeuristicPullsInCorrelatedPartner(t *testing.T) {
	// r-issue는 login 매치로 상위권, r-use는 자체 점수가 낮지만
	// 같은 토큰 값을 공유하므로 함께 선택되어야 한다.
	candidates := []model.Event{
		reqEvent(t, "r-issue", "TOKEN=abc123def&step=1"),
		reqEvent(t, "r-noise1", "n=aaaa"),
		reqEvent(t, "r-use", "TOKEN=abc123def&step=2"),
		reqEvent(t, "r-noise2", "n=bbbb"),
	}
	verdicts := map[string]rules.Verdict{
		"r-issue": {Keep: true, Category: rules.CategoryLogin},
	}

	got, err := NewHeuristic(verdicts).Select(context.Background(), candidates, 5)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	pos := map[string]int{}
	for i, id := range got {
		pos[id] = i
	}
	if _, ok := pos["r-issue"]; !ok {
		t.Fatalf("r-issue missing from %v", got)
	}
	if _, ok := pos["r-use"]; !ok {
		t.Fatalf("correlated partner r-use missing from %v", got)
	}
}

func TestHeuristicTieBreakByLogOrder(t *testing.T) {
	candidates := []model.Event{
		reqEvent(t, "r-b", "x=1"),
		reqEvent(t, "r-a", "y=2"),
		reqEvent(t, "r-c", "z=3"),
	}

	got, err := NewHeuristic(nil).Select(context.Background(), candidates, 3)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	// 전부 동점(default) → 로그 등장 순서
	want := []string{"r-b", "r-a", "r-c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Select() = %v, want %v", got, want)
	}
}

func TestHeuristicSkipsEventsWithoutID(t *testing.T) {
	candidates := []model.Event{
		mustEvent(t, `{"type":"Network.requestWillBeSent","data":{"request":{"hasPostData":true,"postData":"a=1"}}}`),
		reqEvent(t, "r-1", "b=2"),
	}

	got, err := NewHeuristic(nil).Select(context.Background(), candidates, 5)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"r-1"}) {
		t.Errorf("Select() = %v, want [r-1]", got)
	}
}

func TestHeuristicEmptyCandidates(t *testing.T) {
	got, err := NewHeuristic(nil).Select(context.Background(), nil, 5)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Select() = %v, want empty", got)
	}
}
