// internal/selector/heuristic.go
package selector

import (
	"context"
	"sort"

	"authtrace/internal/correlate"
	"authtrace/internal/model"
	"authtrace/internal/rules"
)

// categoryWeight: 규칙 엔진이 기록한 포함 사유별 기본 점수.
// secret은 ground-truth이므로 항상 최상위.
var categoryWeight = map[string]int{
	rules.CategorySecret:    100,
	rules.CategoryLogin:     60,
	rules.CategorySecurity:  50,
	rules.CategorySession:   45,
	rules.CategoryBanking:   45,
	rules.CategoryPriority:  40,
	rules.CategoryKeyword:   25,
	rules.CategoryWebSocket: 10,
	rules.CategoryDefault:   0,
}

// Heuristic
// ------------------------------------------------------------
// 로컬 selector 변형. 원격 judge 없이 동작해야 하는 환경
// (오프라인 조사, 테스트, API key 부재)을 위한 fallback이다.
//
// 점수 = 규칙 카테고리 가중치 + 상관관계 degree.
// 동점은 candidate log의 원래 순서가 빠른 쪽이 우선.
//
// 상관관계 쌍의 한쪽이 선택되면, k 한도 안에서 반대쪽도
// 함께 끌어들인다 (token-issue/token-use 쌍 분리 방지).
type Heuristic struct {
	// Verdicts: 규칙 엔진의 requestId → 포함 사유.
	// 비어 있어도 동작한다 (전부 default 가중치로 처리).
	Verdicts map[string]rules.Verdict

	// Correlator: nil이면 기본 설정으로 생성.
	Correlator *correlate.Correlator
}

func NewHeuristic(verdicts map[string]rules.Verdict) *Heuristic {
	return &Heuristic{
		Verdicts:   verdicts,
		Correlator: correlate.New(),
	}
}

// Select는 점수 상위 k개의 requestId를 중요도 내림차순으로 반환한다.
func (h *Heuristic) Select(_ context.Context, candidates []model.Event, k int) ([]string, error) {
	k = normalizeK(k)

	firstIdx, order := candidateIDSet(candidates)
	if len(order) == 0 {
		return nil, nil
	}

	corr := h.Correlator
	if corr == nil {
		corr = correlate.New()
	}
	degrees := corr.Degrees(candidates)
	pairs := corr.Correlate(candidates)

	// id별 점수 계산
	scores := make(map[string]int, len(order))
	for _, id := range order {
		score := degrees[id]
		if v, ok := h.Verdicts[id]; ok {
			score += categoryWeight[v.Category]
		}
		scores[id] = score
	}

	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		return firstIdx[ranked[i]] < firstIdx[ranked[j]]
	})

	// 이웃 맵 (partner pull-in용)
	neighbors := make(map[string][]string)
	for _, p := range pairs {
		neighbors[p.A] = append(neighbors[p.A], p.B)
		neighbors[p.B] = append(neighbors[p.B], p.A)
	}

	selected := make([]string, 0, k)
	chosen := make(map[string]struct{}, k)

	add := func(id string) bool {
		if len(selected) >= k {
			return false
		}
		if _, ok := chosen[id]; ok {
			return true
		}
		chosen[id] = struct{}{}
		selected = append(selected, id)
		return true
	}

	for _, id := range ranked {
		if !add(id) {
			break
		}
		// 상관관계 파트너는 점수와 무관하게 같이 넣는다 (한도 내에서).
		for _, partner := range neighbors[id] {
			if len(selected) >= k {
				break
			}
			add(partner)
		}
	}

	return selected, nil
}
