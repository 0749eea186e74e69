package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 analyzer 상태를 나타내는 카운터 모음이다.
// Prometheus exporter 없이 /metrics 에서 text로 그대로 노출한다.
// 모든 필드는 atomic 연산으로만 갱신한다.
type Metrics struct {
	// ======================
	// HTTP 레벨 지표 (serve 모드)
	// ======================

	// HTTPRequestsTotal: /upload, /analyze 진입 횟수 (성공/실패 무관).
	HTTPRequestsTotal int64

	// HTTPUploadsAcceptedTotal: 업로드 디렉토리에 정상 저장된 트레이스 수.
	HTTPUploadsAcceptedTotal int64

	// HTTPRequestsRejectedBodyTooLargeTotal: MaxBodySize 초과로 413 반환한 수.
	HTTPRequestsRejectedBodyTooLargeTotal int64

	// ======================
	// 파이프라인 지표
	// ======================

	// RunsTotal / RunsFailedTotal: 파이프라인 실행 횟수와 실패 횟수.
	RunsTotal       int64
	RunsFailedTotal int64

	// EventsInTotal: 규칙 엔진에 들어온 이벤트 수 누적.
	EventsInTotal int64

	// CandidatesOutTotal: 규칙 엔진이 남긴 candidate 수 누적.
	// EventsInTotal 대비 비율이 곧 1차 필터의 감축률이다.
	CandidatesOutTotal int64

	// EventsDroppedMalformedTotal: 구조가 깨져 조용히 버린 이벤트 수.
	// 이 값이 크면 캡처 측 포맷이 변했을 가능성이 있다.
	EventsDroppedMalformedTotal int64

	// RequestsDroppedNoPostTotal: hasPostData=false 로 버린 요청 수.
	RequestsDroppedNoPostTotal int64

	// FramesExcludedEmptyTotal: empty-success marker 로 버린 websocket frame 수.
	FramesExcludedEmptyTotal int64

	// SecretOverridesTotal: secret match 로 강제 포함된 이벤트 수.
	// ground-truth 검증 시 이 값이 0이면 secret 설정을 의심해야 한다.
	SecretOverridesTotal int64

	// ======================
	// 원격 judge 지표
	// ======================

	// JudgeCallsTotal: Messages API 호출 시도 횟수 (재시도 포함).
	JudgeCallsTotal int64

	// JudgeRetriesTotal: 일시 장애로 인한 재시도 횟수.
	JudgeRetriesTotal int64

	// JudgeParseErrorsTotal: 응답이 기대한 JSON 배열로 파싱되지 않은 횟수.
	// 증가 추세면 프롬프트 혹은 모델 변경을 점검해야 한다.
	JudgeParseErrorsTotal int64

	// ======================
	// 아카이브 / 스풀 지표 (S3 업로드 활성화 시)
	// ======================

	// ArchiveStoredTotal: S3에 성공 저장된 artifact 수.
	ArchiveStoredTotal int64

	// ArchivePutErrorsTotal: S3 PutObject 실패 시도 횟수 (재시도마다 +1).
	ArchivePutErrorsTotal int64

	// SpoolEnqueuedTotal: 업로드 실패로 로컬 스풀에 적재된 artifact 수.
	SpoolEnqueuedTotal int64

	// SpoolReuploadedTotal: 스풀에서 S3로 복구된 artifact 수.
	SpoolReuploadedTotal int64

	// SpoolDroppedTotal: 스풀 용량 초과로 버린 artifact 수.
	// 0이 아니면 이미 데이터를 영구적으로 잃기 시작했다는 신호.
	SpoolDroppedTotal int64

	// SpoolFilesExpiredTotal: TTL 또는 용량 정책으로 삭제된 스풀 파일 수.
	SpoolFilesExpiredTotal int64

	// SpoolFilesCurrent / SpoolSizeBytes: 현재 스풀 상태 (gauge).
	SpoolFilesCurrent int64
	SpoolSizeBytes    int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))
	fmt.Fprintf(&sb, "http_uploads_accepted_total=%d\n", atomic.LoadInt64(&m.HTTPUploadsAcceptedTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_body_too_large_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedBodyTooLargeTotal))

	fmt.Fprintf(&sb, "runs_total=%d\n", atomic.LoadInt64(&m.RunsTotal))
	fmt.Fprintf(&sb, "runs_failed_total=%d\n", atomic.LoadInt64(&m.RunsFailedTotal))
	fmt.Fprintf(&sb, "events_in_total=%d\n", atomic.LoadInt64(&m.EventsInTotal))
	fmt.Fprintf(&sb, "candidates_out_total=%d\n", atomic.LoadInt64(&m.CandidatesOutTotal))
	fmt.Fprintf(&sb, "events_dropped_malformed_total=%d\n", atomic.LoadInt64(&m.EventsDroppedMalformedTotal))
	fmt.Fprintf(&sb, "requests_dropped_no_post_total=%d\n", atomic.LoadInt64(&m.RequestsDroppedNoPostTotal))
	fmt.Fprintf(&sb, "frames_excluded_empty_total=%d\n", atomic.LoadInt64(&m.FramesExcludedEmptyTotal))
	fmt.Fprintf(&sb, "secret_overrides_total=%d\n", atomic.LoadInt64(&m.SecretOverridesTotal))

	fmt.Fprintf(&sb, "judge_calls_total=%d\n", atomic.LoadInt64(&m.JudgeCallsTotal))
	fmt.Fprintf(&sb, "judge_retries_total=%d\n", atomic.LoadInt64(&m.JudgeRetriesTotal))
	fmt.Fprintf(&sb, "judge_parse_errors_total=%d\n", atomic.LoadInt64(&m.JudgeParseErrorsTotal))

	fmt.Fprintf(&sb, "archive_stored_total=%d\n", atomic.LoadInt64(&m.ArchiveStoredTotal))
	fmt.Fprintf(&sb, "archive_put_errors_total=%d\n", atomic.LoadInt64(&m.ArchivePutErrorsTotal))
	fmt.Fprintf(&sb, "spool_enqueued_total=%d\n", atomic.LoadInt64(&m.SpoolEnqueuedTotal))
	fmt.Fprintf(&sb, "spool_reuploaded_total=%d\n", atomic.LoadInt64(&m.SpoolReuploadedTotal))
	fmt.Fprintf(&sb, "spool_dropped_total=%d\n", atomic.LoadInt64(&m.SpoolDroppedTotal))
	fmt.Fprintf(&sb, "spool_files_expired_total=%d\n", atomic.LoadInt64(&m.SpoolFilesExpiredTotal))
	fmt.Fprintf(&sb, "spool_files_current=%d\n", atomic.LoadInt64(&m.SpoolFilesCurrent))
	fmt.Fprintf(&sb, "spool_size_bytes=%d\n", atomic.LoadInt64(&m.SpoolSizeBytes))

	return sb.String()
}
