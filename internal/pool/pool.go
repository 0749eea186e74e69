package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// serve 모드에서 트레이스 업로드(수십 MB JSON)와 artifact gzip 인코딩이
// 반복되면 버퍼 할당이 GC pressure의 주범이 된다.
// 아래 Pool들은 그 두 경로의 메모리 재사용을 담당한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - 업로드 body를 임시 저장하는 버퍼
	//   - 초기 용량 64KB (네트워크 트레이스는 작은 편이 드물다)
	//   - 너무 큰 버퍼는 caller(maxCap 조건)에서 재사용하지 않음
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// BufferPool:
	//   - gzip 인코딩 결과를 담는 임시 버퍼
	//   - 초기 용량 256KB
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용이 크다)
	//   - BestSpeed: 아카이브는 지연보다 처리량 우선
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에 맡겨 메모리 폭주를 예방한다.
const MaxBufferCap = 4 * 1024 * 1024 // 4MB

// PutBody:
//   - BodyPool에 buf를 반환할지 결정.
//   - maxCap보다 크면 버려서 GC로.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// PutBuffer:
//   - gzip 결과 버퍼 반환. MaxBufferCap 이하일 때만 재사용.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
