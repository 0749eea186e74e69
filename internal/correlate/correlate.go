// internal/correlate/correlate.go
package correlate

import (
	"regexp"
	"sort"
	"strings"

	"authtrace/internal/model"

	json "github.com/goccy/go-json"
)

// ------------------------------------------------------------
// Cross-Reference Correlator
//
// candidate log 안에서 "같은 값이 서로 다른 이벤트에 다시 나타나는"
// 관계를 찾는다. 한 요청이 발급한 토큰을 다른 요청이 사용하는
// token-issue/token-use 쌍을 critical set에 함께 남기기 위한 장치다.
//
// 결정성 요구사항: 결과는 candidate set 내용만의 순수 함수여야 한다.
// 외부 호출 없음, map 순회 순서 의존 없음 (결과는 항상 정렬됨).
// ------------------------------------------------------------

// DefaultMinValueLen: 이 길이 미만의 값은 상관관계 후보에서 제외한다.
// true/false, 상태코드 같은 짧은 값이 전부 이어져 버리는 것을 막는다.
const DefaultMinValueLen = 8

// Pair는 상관관계가 있는 두 이벤트의 requestId 쌍. 항상 A < B.
type Pair struct {
	A string
	B string
}

// Correlator는 값 추출 최소 길이만 설정으로 가진다.
type Correlator struct {
	MinValueLen int
}

func New() *Correlator {
	return &Correlator{MinValueLen: DefaultMinValueLen}
}

// kvToken: postData/payload 안의 key=value 토큰.
// 값 쪽은 구분자(&, 공백, 따옴표)가 나오기 전까지를 취한다.
var kvToken = regexp.MustCompile(`[A-Za-z0-9_\-]+=([^&\s"']+)`)

// Correlate는 non-trivial 값을 공유하는 이벤트 쌍의 목록을 반환한다.
// 반환 slice는 (A, B) 사전순으로 정렬되어 있다.
func (c *Correlator) Correlate(candidates []model.Event) []Pair {
	index := c.buildIndex(candidates)

	seen := make(map[Pair]struct{})
	for _, ids := range index {
		if len(ids) < 2 {
			continue
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				p := orderPair(ids[i], ids[j])
				seen[p] = struct{}{}
			}
		}
	}

	pairs := make([]Pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Degrees는 requestId → 상관관계 degree (연결된 서로 다른 이벤트 수).
func (c *Correlator) Degrees(candidates []model.Event) map[string]int {
	neighbors := make(map[string]map[string]struct{})
	for _, p := range c.Correlate(candidates) {
		if neighbors[p.A] == nil {
			neighbors[p.A] = make(map[string]struct{})
		}
		if neighbors[p.B] == nil {
			neighbors[p.B] = make(map[string]struct{})
		}
		neighbors[p.A][p.B] = struct{}{}
		neighbors[p.B][p.A] = struct{}{}
	}

	degrees := make(map[string]int, len(neighbors))
	for id, set := range neighbors {
		degrees[id] = len(set)
	}
	return degrees
}

// buildIndex는 value → 그 값을 가진 requestId 목록(등장 순서, 중복 없음).
func (c *Correlator) buildIndex(candidates []model.Event) map[string][]string {
	index := make(map[string][]string)

	for i := range candidates {
		ev := &candidates[i]
		id := ev.RequestID()
		if id == "" {
			// 식별자가 없는 이벤트는 critical set에 들어갈 수 없으므로
			// 상관관계 대상에서도 제외한다.
			continue
		}

		for _, val := range c.extractValues(ev) {
			ids := index[val]
			if len(ids) > 0 && ids[len(ids)-1] == id {
				continue
			}
			if containsID(ids, id) {
				continue
			}
			index[val] = append(ids, id)
		}
	}

	return index
}

// extractValues는 이벤트에서 비교 가능한 스칼라 값을 전부 뽑는다.
// 출처: postData(+entries), websocket payload, request/response 헤더 값.
// 토큰화: key=value 쌍 + JSON leaf 문자열 값.
func (c *Correlator) extractValues(ev *model.Event) []string {
	var texts []string

	if body := ev.PostBody(); body != "" {
		texts = append(texts, body)
	}
	if payload, ok := ev.FramePayload(); ok && payload != "" {
		texts = append(texts, payload)
	}
	if req := ev.Data.Request; req != nil {
		for _, v := range req.Headers {
			texts = append(texts, v)
		}
	}
	if resp := ev.Data.Response; resp != nil {
		for _, v := range resp.Headers {
			texts = append(texts, v)
		}
	}

	var values []string
	for _, text := range texts {
		values = append(values, c.tokenize(text)...)
	}
	return values
}

// tokenize는 한 텍스트 blob에서 값 후보를 뽑는다.
func (c *Correlator) tokenize(text string) []string {
	var values []string

	// 1) key=value 토큰
	for _, m := range kvToken.FindAllStringSubmatch(text, -1) {
		if v := m[1]; c.nonTrivial(v) {
			values = append(values, v)
		}
	}

	// 2) JSON이면 leaf 문자열 값도 수집
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var root any
		if err := json.Unmarshal([]byte(trimmed), &root); err == nil {
			values = appendJSONLeaves(values, root, c.minLen())
		}
	}

	return values
}

// nonTrivial: boolean/짧은 코드값 배제.
func (c *Correlator) nonTrivial(v string) bool {
	if len(v) < c.minLen() {
		return false
	}
	switch strings.ToLower(v) {
	case "undefined", "null":
		return false
	}
	return true
}

func (c *Correlator) minLen() int {
	if c.MinValueLen > 0 {
		return c.MinValueLen
	}
	return DefaultMinValueLen
}

// appendJSONLeaves는 디코딩된 JSON 트리에서 문자열 leaf만 모은다.
func appendJSONLeaves(values []string, node any, minLen int) []string {
	switch v := node.(type) {
	case string:
		if len(v) >= minLen {
			values = append(values, v)
		}
	case map[string]any:
		// 순회 순서는 결과 집합에 영향 없음 (index는 set 기반).
		for _, child := range v {
			values = appendJSONLeaves(values, child, minLen)
		}
	case []any:
		for _, child := range v {
			values = appendJSONLeaves(values, child, minLen)
		}
	}
	return values
}

func orderPair(a, b string) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
