// internal/archive/key.go
package archive

import (
	"fmt"
	"sync/atomic"
)

// ------------------------------------------------------------
// artifact 파일명/키 생성 유틸.
//
// 파일명 규칙:
//
//	<unix>_<instance>_<kind>_<counter>.json.gz
//
// 예:
//
//	1764721594_analyzer1_critical_000042.json.gz
//
// 문자열 정렬 = 시간 정렬이므로 스풀 재업로드 시
// 가장 오래된 파일 선처리에 그대로 쓸 수 있다.
// ------------------------------------------------------------
var globalCounter uint64

// NextCounter는 원자적 증가 값으로 순차 번호를 생성한다.
// 1,000,000에서 wrap-around 해도 timestamp·instance 조합으로
// 파일명 충돌 가능성은 사실상 없다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename은 <unix>_<instance>_<kind>_<counter>.json.gz 형태의
// 새 파일명을 생성한다. kind는 artifact 종류("candidate", "critical").
func NewFilename(instanceID, kind string) string {
	return fmt.Sprintf("%d_%s_%s_%06d.json.gz", Unix(), instanceID, kind, NextCounter())
}

// BuildKey는 표준화된 S3 key를 생성한다.
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// Athena / Glue 파티션 스캔 비용을 줄이기 위한 구조.
func BuildKey(prefix, filename string) string {
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, DT(), HR(), filename)
}
