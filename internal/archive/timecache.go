// internal/archive/timecache.go
package archive

import (
	"sync/atomic"
	"time"
)

// ------------------------------------------------------------
// 현재 UTC epoch seconds와 KST 기준 날짜/시간 파티션을 1초 단위로
// 캐싱한다. 아카이브 키 생성과 스풀 TTL 판단이 모두 여기 의존한다.
// 초단위 정밀도면 충분하므로 매번 time.Now()를 부르지 않는다.
// ------------------------------------------------------------

var (
	unixSec atomic.Int64

	dtVal atomic.Value // "YYYY-MM-DD"
	hrVal atomic.Value // "HH"
)

const kstOffset = 9 * time.Hour

func init() {
	seed()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			seed()
		}
	}()
}

func seed() {
	now := time.Now()
	unixSec.Store(now.Unix())

	kst := now.Add(kstOffset)
	dtVal.Store(kst.Format("2006-01-02"))
	hrVal.Store(kst.Format("15"))
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (KST 기준).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (KST 기준).
func HR() string {
	return hrVal.Load().(string)
}
