// internal/rules/engine.go
package rules

import (
	"net/url"
	"strings"
	"sync/atomic"

	"authtrace/internal/metrics"
	"authtrace/internal/model"

	"github.com/rs/zerolog/log"
)

// Engine
// ------------------------------------------------------------
// 규칙 기반 1차 필터. 전체 트레이스에서 명백히 무관한 트래픽
// (정적 리소스, 잘못된 scheme, empty-success frame)을 제거해
// candidate log를 만든다.
//
// 순수 함수처럼 동작한다:
//   - 입력 slice를 변형하지 않는다.
//   - 출력은 입력의 subsequence (순서 유지, 복제/변형 없음).
//   - 외부 호출 없음 → 로그 shard 단위 병렬화에도 안전.
type Engine struct {
	rules   RuleSet
	metrics *metrics.Metrics
}

// Verdict는 이벤트 하나에 대한 판정 결과.
// Category/Pattern은 진단 및 heuristic selector 점수 계산에 쓰인다.
type Verdict struct {
	Keep     bool
	Category string
	Pattern  string // AuthPatterns가 맞은 경우 해당 정규식 문자열
}

func NewEngine(rs RuleSet, m *metrics.Metrics) *Engine {
	return &Engine{rules: rs, metrics: m}
}

// Filter는 전체 로그를 candidate log로 줄인다.
//
// 반환값:
//   - candidates: 입력 순서를 그대로 유지한 subsequence
//   - verdicts: requestId → 포함 사유 (requestId 없는 이벤트는 제외)
func (e *Engine) Filter(events []model.Event) ([]model.Event, map[string]Verdict) {
	candidates := make([]model.Event, 0, len(events))
	verdicts := make(map[string]Verdict)

	for i := range events {
		v := e.Evaluate(&events[i])
		if !v.Keep {
			continue
		}

		candidates = append(candidates, events[i])

		// 같은 requestId가 여러 번 등장하면 첫 판정을 유지한다.
		if id := events[i].RequestID(); id != "" {
			if _, ok := verdicts[id]; !ok {
				verdicts[id] = v
			}
		}
	}

	if e.metrics != nil {
		atomic.AddInt64(&e.metrics.EventsInTotal, int64(len(events)))
		atomic.AddInt64(&e.metrics.CandidatesOutTotal, int64(len(candidates)))
	}

	return candidates, verdicts
}

// Evaluate는 이벤트 하나에 대해 규칙을 아래 우선순위로 적용한다.
// 첫 번째로 맞은 규칙이 판정을 결정한다 (short-circuit).
//
//  1. websocket frame: empty-success marker 제외 (secret은 이를 뒤집음)
//  2. request: hasPostData=false → drop
//  3. secret match → include
//  4. invalid scheme / raw-IP host → drop
//  5. priority escalation → include
//  6. keyword / auth-pattern → include
//  7. 정적 리소스 extension → drop
//  8. default → include (보수적 keep)
//
// 중첩 필드가 깨져 있어도 절대 panic하지 않는다.
// 구조 자체가 깨진 이벤트(request 없는 requestWillBeSent 등)는
// info 레벨로만 기록하고 조용히 버린다.
func (e *Engine) Evaluate(ev *model.Event) Verdict {
	switch {
	case ev.IsWebSocketFrame():
		return e.evaluateFrame(ev)

	case ev.Type == model.TypeRequestWillBeSent:
		return e.evaluateRequest(ev)

	default:
		// 그 외 type은 파이프라인 대상이 아니다.
		return Verdict{}
	}
}

// evaluateFrame: websocket frame 판정.
// payload에 empty-success marker가 있고 secret도 없으면 제외,
// 그 외에는 모두 포함한다. secret match는 marker 제외를 항상 뒤집는다.
func (e *Engine) evaluateFrame(ev *model.Event) Verdict {
	payload, ok := ev.FramePayload()
	if !ok {
		// payload 영역이 없는 frame은 구조가 깨진 것 → drop
		e.dropMalformed(ev)
		return Verdict{}
	}

	if e.secretMatch(payload) {
		e.countSecret()
		return Verdict{Keep: true, Category: CategorySecret}
	}

	if strings.Contains(payload, `,"ReturnValue":"",`) ||
		strings.Contains(payload, `,"ReturnValue":"0",`) {
		if e.metrics != nil {
			atomic.AddInt64(&e.metrics.FramesExcludedEmptyTotal, 1)
		}
		return Verdict{}
	}

	return Verdict{Keep: true, Category: CategoryWebSocket}
}

// evaluateRequest: Network.requestWillBeSent 판정.
func (e *Engine) evaluateRequest(ev *model.Event) Verdict {
	req := ev.Data.Request
	if req == nil {
		e.dropMalformed(ev)
		return Verdict{}
	}

	// 2) POST body가 없는 요청은 로그인 흐름에서 의미가 없다.
	//    GET 위주의 navigational noise를 통째로 걸러내는 단순화.
	if !req.HasPostData {
		if e.metrics != nil {
			atomic.AddInt64(&e.metrics.RequestsDroppedNoPostTotal, 1)
		}
		return Verdict{}
	}

	// 3) secret override: 알고 있는 비밀값이 body에 있으면 무조건 포함.
	if e.secretMatch(ev.PostBody()) {
		e.countSecret()
		return Verdict{Keep: true, Category: CategorySecret}
	}

	lowered := strings.ToLower(req.URL)

	// 4) invalid scheme / raw-IP host는 어떤 포함 규칙보다 우선해 제외.
	if e.invalidScheme(lowered) {
		return Verdict{}
	}

	// 5) priority escalation:
	//    VeryHigh/High + sameSite + POST + 비어 있지 않은 postData.
	if (req.InitialPriority == "VeryHigh" || req.InitialPriority == "High") &&
		req.IsSameSite &&
		req.Method == "POST" &&
		req.PostData != "" && req.PostData != "{}" {
		return Verdict{Keep: true, Category: CategoryPriority}
	}

	// 6) keyword / auth-pattern 포함 규칙.
	for _, kw := range e.rules.IncludedKeywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return Verdict{Keep: true, Category: CategoryKeyword, Pattern: kw}
		}
	}
	for category, patterns := range e.rules.AuthPatterns {
		for _, p := range patterns {
			if p.MatchString(req.URL) {
				log.Debug().
					Str("category", category).
					Str("pattern", p.String()).
					Str("url", req.URL).
					Msg("auth pattern matched")
				return Verdict{Keep: true, Category: category, Pattern: p.String()}
			}
		}
	}

	// 7) 정적 리소스 extension 제외. path에만 매칭한다.
	if e.excludedExtension(lowered) {
		return Verdict{}
	}

	// 8) 어느 규칙에도 안 걸린 non-static 요청은 보수적으로 keep.
	return Verdict{Keep: true, Category: CategoryDefault}
}

// invalidScheme은 소문자화된 URL에 대해 scheme prefix 및
// raw-IP 호스트 여부를 검사한다.
func (e *Engine) invalidScheme(lowered string) bool {
	for _, scheme := range e.rules.InvalidSchemes {
		if strings.HasPrefix(lowered, scheme) {
			return true
		}
	}
	return rawIPHost.MatchString(lowered)
}

// excludedExtension은 URL의 path suffix만 검사한다.
// query/fragment를 떼지 않으면 "foo.jsp?x=y.png" 같은 오탐이 생긴다.
func (e *Engine) excludedExtension(lowered string) bool {
	path := lowered
	if u, err := url.Parse(lowered); err == nil && u.Path != "" {
		path = u.Path
	} else {
		// URL 파싱 실패 시 수동으로 query/fragment 제거 후 진행.
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
	}

	for _, ext := range e.rules.ExcludedExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// secretMatch는 literal substring 매칭이다. 패턴 해석 금지.
func (e *Engine) secretMatch(text string) bool {
	return e.rules.Secret != "" && text != "" &&
		strings.Contains(text, e.rules.Secret)
}

func (e *Engine) countSecret() {
	if e.metrics != nil {
		atomic.AddInt64(&e.metrics.SecretOverridesTotal, 1)
	}
}

// dropMalformed: 구조가 깨진 이벤트는 복구하지 않고 버린다.
// 이벤트 단위 문제는 장애가 아니므로 info 레벨로만 남긴다.
func (e *Engine) dropMalformed(ev *model.Event) {
	if e.metrics != nil {
		atomic.AddInt64(&e.metrics.EventsDroppedMalformedTotal, 1)
	}
	log.Info().
		Str("type", ev.Type).
		Str("requestId", ev.RequestID()).
		Msg("malformed event dropped")
}
