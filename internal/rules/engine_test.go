package rules

import (
	"fmt"
	"testing"

	"authtrace/internal/metrics"
	"authtrace/internal/model"

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

func postEvent(t *testing.T, id, url, postData string) model.Event {
	t.Helper()
	b, _ := json.Marshal(map[string]any{"url": url, "method": "POST", "hasPostData": true, "postData": postData})
	return mustEvent(t, fmt.Sprintf(
		`{"type":"Network.requestWillBeSent","data":{"requestId":%q,"request":%s}}`, id, b))
}

func wsEvent(t *testing.T, id, payload string) model.Event {
	t.Helper()
	p, _ := json.Marshal(payload)
	return mustEvent(t, fmt.Sprintf(
		`{"type":"Network.webSocketFrameReceived","data":{"requestId":%q,"response":{"payloadData":%s}}}`, id, p))
}

func newTestEngine(secret string) *Engine {
	rs := DefaultRuleSet()
	rs.Secret = secret
	return NewEngine(rs, metrics.New())
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for i := range events {
		out = append(out, events[i].RequestID())
	}
	return out
}

func TestFilterDecisionTable(t *testing.T) {
	tests := []struct {
		name string
		ev   model.Event
		keep bool
		cat  string
	}{
		{
			name: "ws frame with content kept",
			ev:   wsEvent(t, "ws-1", `{"method":"call","TOKEN":"abc"}`),
			keep: true,
			cat:  CategoryWebSocket,
		},
		{
			name: "ws empty-success marker excluded",
			ev:   wsEvent(t, "ws-2", `{"m":"x"},"ReturnValue":"0",{"n":"y"}`),
			keep: false,
		},
		{
			name: "ws empty-string marker excluded",
			ev:   wsEvent(t, "ws-3", `{"m":"x"},"ReturnValue":"",{"n":"y"}`),
			keep: false,
		},
		{
			name: "request without post data dropped",
			ev: mustEvent(t, `{"type":"Network.requestWillBeSent","data":{"requestId":"r-1","request":{"url":"https://example.com/page","hasPostData":false}}}`),
			keep: false,
		},
		{
			name: "static png dropped",
			ev:   postEvent(t, "r-2", "https://cdn.example.com/assets/header.png", "x=1"),
			keep: false,
		},
		{
			name: "login pattern beats extension exclusion",
			ev:   postEvent(t, "r-3", "https://example.com/login/submit.png", "id=a"),
			keep: true,
			cat:  CategoryLogin,
		},
		{
			name: "extension matches path only, not query",
			ev:   postEvent(t, "r-4", "https://example.com/view.do?img=y.png", "x=1"),
			keep: true,
			cat:  CategoryDefault,
		},
		{
			name: "data scheme excluded",
			ev:   postEvent(t, "r-5", "data:text/html,aaaa", "x=1"),
			keep: false,
		},
		{
			name: "plain http excluded",
			ev:   postEvent(t, "r-6", "http://example.com/api/login", "x=1"),
			keep: false,
		},
		{
			name: "raw ip host excluded",
			ev:   postEvent(t, "r-7", "https://192.168.0.10/api", "x=1"),
			keep: false,
		},
		{
			name: "keyword api included",
			ev:   postEvent(t, "r-8", "https://example.com/api/profile", "x=1"),
			keep: true,
			cat:  CategoryKeyword,
		},
		{
			name: "known bank endpoint included",
			ev:   postEvent(t, "r-9", "https://banking.nonghyup.com/servlet/IPCNPA000I.view", "x=1"),
			keep: true,
		},
		{
			name: "unmatched non-static kept by default",
			ev:   postEvent(t, "r-10", "https://example.com/submit.do", "x=1"),
			keep: true,
			cat:  CategoryDefault,
		},
		{
			name: "broken request dropped silently",
			ev:   mustEvent(t, `{"type":"Network.requestWillBeSent","data":{"requestId":"r-11"}}`),
			keep: false,
		},
		{
			name: "ws frame without payload dropped silently",
			ev:   mustEvent(t, `{"type":"Network.webSocketFrameSent","data":{"requestId":"ws-4"}}`),
			keep: false,
		},
		{
			name: "other event type ignored",
			ev:   mustEvent(t, `{"type":"Network.responseReceived","data":{"requestId":"r-12"}}`),
			keep: false,
		},
	}

	engine := newTestEngine("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(&tt.ev)
			if v.Keep != tt.keep {
				t.Fatalf("Keep = %v, want %v", v.Keep, tt.keep)
			}
			if tt.cat != "" && v.Category != tt.cat {
				t.Errorf("Category = %q, want %q", v.Category, tt.cat)
			}
		})
	}
}

func TestSecretOverridesEverything(t *testing.T) {
	engine := newTestEngine("pncsoft1!!")

	tests := []struct {
		name string
		ev   model.Event
	}{
		{
			name: "secret beats ws empty-success marker",
			ev:   wsEvent(t, "ws-1", `{"pw":"pncsoft1!!"},"ReturnValue":"0",`),
		},
		{
			name: "secret beats extension exclusion",
			ev:   postEvent(t, "r-1", "https://cdn.example.com/x.png", "pw=pncsoft1!!"),
		},
		{
			name: "secret beats invalid scheme",
			ev:   postEvent(t, "r-2", "data:text/html,form", "pw=pncsoft1!!"),
		},
		{
			name: "secret in postDataEntries",
			ev: mustEvent(t, `{"type":"Network.requestWillBeSent","data":{"requestId":"r-3","request":{"url":"https://cdn.example.com/x.png","hasPostData":true,"postDataEntries":[{"bytes":"pw=pncsoft1!!"}]}}}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(&tt.ev)
			if !v.Keep || v.Category != CategorySecret {
				t.Errorf("Verdict = %+v, want secret include", v)
			}
		})
	}
}

func TestPriorityEscalation(t *testing.T) {
	engine := newTestEngine("")

	base := `{"type":"Network.requestWillBeSent","data":{"requestId":"r-1","request":{"url":"https://cdn.example.com/x.png","method":"POST","hasPostData":true,"postData":%q,"initialPriority":%q,"isSameSite":%v}}}`

	tests := []struct {
		name     string
		postData string
		priority string
		sameSite bool
		keep     bool
	}{
		{"very high same-site post", "id=a", "VeryHigh", true, true},
		{"high same-site post", "id=a", "High", true, true},
		{"low priority falls through to extension drop", "id=a", "Low", true, false},
		{"cross-site falls through", "id=a", "VeryHigh", false, false},
		{"empty object body falls through", "{}", "VeryHigh", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mustEvent(t, fmt.Sprintf(base, tt.postData, tt.priority, tt.sameSite))
			v := engine.Evaluate(&ev)
			if v.Keep != tt.keep {
				t.Fatalf("Keep = %v, want %v", v.Keep, tt.keep)
			}
			if tt.keep && v.Category != CategoryPriority {
				t.Errorf("Category = %q, want priority", v.Category)
			}
		})
	}
}

func TestFilterIsStableSubsequence(t *testing.T) {
	events := []model.Event{
		postEvent(t, "r-1", "https://example.com/api/a", "x=1"),
		postEvent(t, "r-2", "https://cdn.example.com/a.css", "x=1"),
		wsEvent(t, "ws-1", `{"m":"x"}`),
		postEvent(t, "r-3", "https://example.com/login", "id=a"),
		postEvent(t, "r-4", "https://example.com/api/b", "x=1"),
	}

	engine := newTestEngine("")
	got, verdicts := engine.Filter(events)

	want := []string{"r-1", "ws-1", "r-3", "r-4"}
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("ids = %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("ids = %v, want %v (order must match input)", gotIDs, want)
		}
	}

	if verdicts["r-3"].Category != CategoryLogin {
		t.Errorf("verdict for r-3 = %+v", verdicts["r-3"])
	}

	// 보존된 이벤트는 원본 그대로여야 한다 (필터이지 변환이 아님).
	for i := range got {
		if len(got[i].Raw) == 0 {
			t.Errorf("event %s lost its raw record", got[i].RequestID())
		}
	}
}

func TestFilterIdempotent(t *testing.T) {
	events := []model.Event{
		postEvent(t, "r-1", "https://example.com/api/a", "x=1"),
		postEvent(t, "r-2", "https://cdn.example.com/a.js", "x=1"),
		wsEvent(t, "ws-1", `{"m":"x"},"ReturnValue":"0",`),
		postEvent(t, "r-3", "https://example.com/other.do", "x=1"),
	}

	engine := newTestEngine("")
	once, _ := engine.Filter(events)
	twice, _ := engine.Filter(once)

	if len(once) != len(twice) {
		t.Fatalf("filter not idempotent: %v vs %v", ids(once), ids(twice))
	}
	for i := range once {
		if once[i].RequestID() != twice[i].RequestID() {
			t.Fatalf("filter not idempotent: %v vs %v", ids(once), ids(twice))
		}
	}
}
