// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"authtrace/internal/correlate"
	"authtrace/internal/metrics"
	"authtrace/internal/model"
	"authtrace/internal/rules"
	"authtrace/internal/selector"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Options는 1회 실행 단위의 파라미터.
type Options struct {
	InputPath  string
	OutputPath string

	// CandidatePath: 1차 필터 결과(candidate log)의 저장 경로.
	// 비워 두면 OutputPath 옆에 run id 기반 이름으로 저장한다.
	// candidate log는 durable한 중간 artifact라서, judge 단계가 실패해도
	// 여기서부터 재실행이 가능하다.
	CandidatePath string

	// K: critical set 최대 크기 (0이면 selector 기본값).
	K int

	// MinValueLen: 상관관계 값 최소 길이 (0이면 correlate 기본값).
	// 로컬 heuristic의 Correlator에만 적용된다.
	MinValueLen int

	Rules rules.RuleSet

	// Selector: nil이면 규칙 판정 기반 로컬 heuristic을 사용한다.
	Selector selector.Selector

	Metrics *metrics.Metrics
}

// Result는 실행 요약.
type Result struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`

	EventsTotal int `json:"eventsTotal"`
	Candidates  int `json:"candidates"`
	Critical    int `json:"critical"`

	// CriticalKeys: selector의 중요도 내림차순 랭킹 (정보성).
	CriticalKeys []string `json:"criticalKeys"`

	CandidatePath string `json:"candidatePath"`
	OutputPath    string `json:"outputPath"`
}

// Run
// ------------------------------------------------------------
// 전체 파이프라인 1회 실행:
//
//	raw log → 규칙 엔진 → candidate artifact 저장
//	        → selector (상관관계 반영) → requestId 목록
//	        → candidate log에 다시 투영 → critical artifact 저장
//
// 최종 artifact의 이벤트 순서는 candidate log 순서다.
// selector의 랭킹 순서는 Result.CriticalKeys로만 제공한다.
//
// 두 단계 사이의 부분 복구는 시도하지 않는다. candidate artifact가
// 남아 있으므로 실패 시 그 지점부터 다시 돌리면 된다.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	if opts.Metrics != nil {
		atomic.AddInt64(&opts.Metrics.RunsTotal, 1)
	}

	res, err := run(ctx, runID, start, opts)
	if err != nil {
		if opts.Metrics != nil {
			atomic.AddInt64(&opts.Metrics.RunsFailedTotal, 1)
		}
		log.Error().Err(err).Str("runId", runID).Msg("pipeline run failed")
		return nil, err
	}

	log.Info().
		Str("runId", runID).
		Int("events", res.EventsTotal).
		Int("candidates", res.Candidates).
		Int("critical", res.Critical).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline run complete")

	return res, nil
}

func run(ctx context.Context, runID string, start time.Time, opts Options) (*Result, error) {
	// --- 1) 입력 로드 ---
	events, err := LoadLog(opts.InputPath)
	if err != nil {
		return nil, err
	}

	// --- 2) 규칙 기반 1차 필터 ---
	engine := rules.NewEngine(opts.Rules, opts.Metrics)
	candidates, verdicts := engine.Filter(events)

	// --- 3) candidate artifact 저장 (durable 중간 산출물) ---
	candidatePath := opts.CandidatePath
	if candidatePath == "" {
		dir := filepath.Dir(opts.OutputPath)
		candidatePath = filepath.Join(dir, fmt.Sprintf("candidate_log_%s.json", runID))
	}
	if err := WriteArtifact(candidatePath, candidates); err != nil {
		return nil, err
	}

	// --- 4) critical set 선택 ---
	sel := opts.Selector
	if sel == nil {
		h := selector.NewHeuristic(verdicts)
		if opts.MinValueLen > 0 {
			h.Correlator = &correlate.Correlator{MinValueLen: opts.MinValueLen}
		}
		sel = h
	}

	keys, err := sel.Select(ctx, candidates, opts.K)
	if err != nil {
		return nil, err
	}

	// --- 5) 선택 결과를 candidate log에 투영 ---
	// 랭킹이 아니라 로그 등장 순서를 유지한다 (재현/검토 편의).
	critical := project(candidates, keys)

	// --- 6) 최종 artifact 저장 ---
	if err := WriteArtifact(opts.OutputPath, critical); err != nil {
		return nil, err
	}

	return &Result{
		RunID:         runID,
		StartedAt:     start.UTC(),
		DurationMS:    time.Since(start).Milliseconds(),
		EventsTotal:   len(events),
		Candidates:    len(candidates),
		Critical:      len(critical),
		CriticalKeys:  keys,
		CandidatePath: candidatePath,
		OutputPath:    opts.OutputPath,
	}, nil
}

// project는 requestId 집합에 속한 이벤트만 candidate 순서 그대로 남긴다.
func project(candidates []model.Event, keys []string) []model.Event {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}

	out := make([]model.Event, 0, len(keys))
	for i := range candidates {
		id := candidates[i].RequestID()
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			out = append(out, candidates[i])
		}
	}
	return out
}
