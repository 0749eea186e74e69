package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"authtrace/internal/metrics"
	"authtrace/internal/model"
	"authtrace/internal/rules"

	json "github.com/goccy/go-json"
)

// sampleLog: 로그인 1건 + 정적 리소스 + 빈 websocket 응답 + 후속 API 호출.
const sampleLog = `[
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-login","request":{"url":"https://example.com/login","method":"POST","hasPostData":true,"postData":"id=a&pw=b&TOKEN=abc123def"}}},
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-css","request":{"url":"https://cdn.example.com/site.css","method":"POST","hasPostData":true,"postData":"x=1"}}},
  {"type":"Network.webSocketFrameReceived","data":{"requestId":"ws-empty","response":{"payloadData":"{\"m\":\"x\"},\"ReturnValue\":\"0\","}}},
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-use","request":{"url":"https://example.com/api/confirm","method":"POST","hasPostData":true,"postData":"TOKEN=abc123def&step=2"}}}
]
`

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "network_log.json")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readArtifact(t *testing.T, path string) []model.Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact %s: %v", path, err)
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("artifact %s is not an event array: %v", path, err)
	}
	return events
}

func TestRunLocalEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := writeSample(t, dir)
	output := filepath.Join(dir, "critical.json")
	candPath := filepath.Join(dir, "candidates.json")

	m := metrics.New()
	res, err := Run(context.Background(), Options{
		InputPath:     input,
		OutputPath:    output,
		CandidatePath: candPath,
		K:             5,
		Rules:         rules.DefaultRuleSet(),
		Metrics:       m,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.EventsTotal != 4 {
		t.Errorf("EventsTotal = %d, want 4", res.EventsTotal)
	}
	// r-css는 정적 리소스, ws-empty는 빈 성공 마커로 탈락한다.
	if res.Candidates != 2 {
		t.Errorf("Candidates = %d, want 2", res.Candidates)
	}

	cands := readArtifact(t, candPath)
	if len(cands) != 2 || cands[0].RequestID() != "r-login" || cands[1].RequestID() != "r-use" {
		ids := make([]string, len(cands))
		for i := range cands {
			ids[i] = cands[i].RequestID()
		}
		t.Fatalf("candidate artifact ids = %v, want [r-login r-use]", ids)
	}

	// local heuristic은 login 매치와 토큰을 공유하는 r-use를 함께 고른다.
	crit := readArtifact(t, output)
	if len(crit) != 2 || crit[0].RequestID() != "r-login" || crit[1].RequestID() != "r-use" {
		t.Fatalf("critical artifact has %d events, want r-login and r-use in log order", len(crit))
	}

	// 최종 artifact의 레코드는 입력 원본 그대로여야 한다.
	for i := range crit {
		if !strings.Contains(sampleLog, string(crit[i].Raw)) {
			t.Errorf("event %d raw record not found verbatim in input", i)
		}
	}

	if res.RunID == "" || res.OutputPath != output || res.CandidatePath != candPath {
		t.Errorf("result metadata incomplete: %+v", res)
	}
	if m.RunsTotal != 1 || m.RunsFailedTotal != 0 {
		t.Errorf("runs = %d, failed = %d", m.RunsTotal, m.RunsFailedTotal)
	}
}

func TestRunDefaultCandidatePath(t *testing.T) {
	dir := t.TempDir()
	input := writeSample(t, dir)
	output := filepath.Join(dir, "critical.json")

	res, err := Run(context.Background(), Options{
		InputPath:  input,
		OutputPath: output,
		Rules:      rules.DefaultRuleSet(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if filepath.Dir(res.CandidatePath) != dir {
		t.Errorf("candidate path %q not beside output", res.CandidatePath)
	}
	if !strings.Contains(filepath.Base(res.CandidatePath), res.RunID) {
		t.Errorf("candidate path %q does not embed run id %q", res.CandidatePath, res.RunID)
	}
	if _, err := os.Stat(res.CandidatePath); err != nil {
		t.Errorf("candidate artifact missing: %v", err)
	}
}

func TestRunMinValueLenControlsCorrelation(t *testing.T) {
	// r-login과 r-use는 9글자 토큰을 공유한다. 기본 임계값(8)에서는
	// 상관관계로 r-use가 함께 선택되고, 임계값을 20으로 올리면
	// 토큰이 무시되어 점수 순서대로 r-api가 대신 선택되어야 한다.
	const log = `[
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-login","request":{"url":"https://example.com/login","method":"POST","hasPostData":true,"postData":"id=a&TOKEN=abc123def"}}},
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-api","request":{"url":"https://example.com/api/profile","method":"POST","hasPostData":true,"postData":"x=1"}}},
  {"type":"Network.requestWillBeSent","data":{"requestId":"r-use","request":{"url":"https://example.com/submit.do","method":"POST","hasPostData":true,"postData":"TOKEN=abc123def&step=2"}}}
]`

	dir := t.TempDir()
	input := filepath.Join(dir, "network_log.json")
	if err := os.WriteFile(input, []byte(log), 0o644); err != nil {
		t.Fatal(err)
	}

	runWith := func(minLen int, outName string) []string {
		t.Helper()
		res, err := Run(context.Background(), Options{
			InputPath:   input,
			OutputPath:  filepath.Join(dir, outName),
			K:           2,
			MinValueLen: minLen,
			Rules:       rules.DefaultRuleSet(),
		})
		if err != nil {
			t.Fatalf("Run(minLen=%d): %v", minLen, err)
		}
		return res.CriticalKeys
	}

	got := runWith(0, "critical_default.json")
	if len(got) != 2 || got[0] != "r-login" || got[1] != "r-use" {
		t.Errorf("default threshold keys = %v, want [r-login r-use]", got)
	}

	got = runWith(20, "critical_strict.json")
	if len(got) != 2 || got[0] != "r-login" || got[1] != "r-api" {
		t.Errorf("minLen=20 keys = %v, want [r-login r-api]", got)
	}
}

func TestRunInputNotFound(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()

	_, err := Run(context.Background(), Options{
		InputPath:  filepath.Join(dir, "nope.json"),
		OutputPath: filepath.Join(dir, "out.json"),
		Rules:      rules.DefaultRuleSet(),
		Metrics:    m,
	})
	if !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrInputNotFound", err)
	}
	if m.RunsFailedTotal != 1 {
		t.Errorf("RunsFailedTotal = %d, want 1", m.RunsFailedTotal)
	}
}

func TestRunInputMalformed(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(input, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Run(context.Background(), Options{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "out.json"),
		Rules:      rules.DefaultRuleSet(),
	})
	if !errors.Is(err, ErrInputMalformed) {
		t.Fatalf("err = %v, want ErrInputMalformed", err)
	}
}

func TestRunSelectorFailureKeepsCandidateArtifact(t *testing.T) {
	dir := t.TempDir()
	input := writeSample(t, dir)
	candPath := filepath.Join(dir, "candidates.json")
	output := filepath.Join(dir, "critical.json")

	_, err := Run(context.Background(), Options{
		InputPath:     input,
		OutputPath:    output,
		CandidatePath: candPath,
		Rules:         rules.DefaultRuleSet(),
		Selector:      failingSelector{},
	})
	if err == nil {
		t.Fatal("expected selector failure")
	}

	// judge가 죽어도 candidate log는 이미 디스크에 있어야 한다.
	if _, statErr := os.Stat(candPath); statErr != nil {
		t.Errorf("candidate artifact missing after selector failure: %v", statErr)
	}
	if _, statErr := os.Stat(output); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("final artifact must not exist after failure, stat: %v", statErr)
	}
}

type failingSelector struct{}

func (failingSelector) Select(context.Context, []model.Event, int) ([]string, error) {
	return nil, errors.New("judge unavailable")
}

func TestWriteArtifactLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	events, err := LoadLog(writeSample(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteArtifact(path, events); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %q", e.Name())
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("artifact must end with a newline")
	}
}
