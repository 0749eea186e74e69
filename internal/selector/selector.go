// internal/selector/selector.go
package selector

import (
	"context"
	"errors"
	"fmt"

	"authtrace/internal/model"
)

// DefaultK: critical set의 기본 최대 크기.
const DefaultK = 5

// Selector
// ------------------------------------------------------------
// critical-set 선택기의 공통 계약.
//
// 구현 변형:
//   - Heuristic: 로컬 점수 기반 (오프라인/테스트용 fallback)
//   - Judge: 원격 의미 판정 (Anthropic Messages API)
//
// 계약:
//   - 결과 크기 ≤ k (k ≤ 0이면 DefaultK)
//   - candidates에 없는 requestId 반환 금지
//   - 중복 금지
//   - 중요도 내림차순 정렬
//   - requestId가 없는 이벤트는 에러 없이 skip
type Selector interface {
	Select(ctx context.Context, candidates []model.Event, k int) ([]string, error)
}

// ------------------------------------------------------------
// 원격 judge 에러 분류.
// 호출자는 errors.Is / errors.As로 구분해 처리한다.
// ------------------------------------------------------------

var (
	// ErrJudgeAuth: credential 누락/무효. 네트워크 호출 전에 판정된다.
	ErrJudgeAuth = errors.New("judge: missing or invalid credential")

	// ErrJudgeTimeout: 재시도 소진 후에도 시간 내 응답 없음.
	ErrJudgeTimeout = errors.New("judge: request timed out")

	// ErrJudgeNetwork: timeout 외의 전송 실패 (재시도 소진 후).
	ErrJudgeNetwork = errors.New("judge: network request failed")
)

// ParseError: judge 응답이 기대한 JSON 형태로 해석되지 않음.
// 진단을 위해 원문 일부(snippet)를 보존한다.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("judge: response parse failed: %s (snippet: %q)", e.Reason, e.Snippet)
}

// normalizeK: k ≤ 0이면 기본값.
func normalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}

// candidateIDSet은 candidates의 requestId 집합과
// 각 id의 최초 등장 인덱스(로그 순서 tie-break용)를 만든다.
func candidateIDSet(candidates []model.Event) (map[string]int, []string) {
	firstIdx := make(map[string]int)
	order := make([]string, 0, len(candidates))
	for i := range candidates {
		id := candidates[i].RequestID()
		if id == "" {
			continue // 식별자 없는 이벤트는 선택 불가 → skip
		}
		if _, ok := firstIdx[id]; !ok {
			firstIdx[id] = i
			order = append(order, id)
		}
	}
	return firstIdx, order
}
