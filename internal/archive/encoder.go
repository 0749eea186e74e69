// internal/archive/encoder.go
package archive

import (
	"bytes"

	"authtrace/internal/pool"

	"github.com/klauspost/compress/gzip"
)

// EncodeGzip은 artifact JSON 바이트를 gzip 압축한다.
// gzip.Writer와 결과 버퍼는 pool에서 재사용하고,
// 결과는 항상 caller 소유의 새 slice로 복사해 반환한다
// (pool 버퍼를 그대로 반환하면 재사용 시 corruption 위험).
func EncodeGzip(data []byte) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}

	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}
	pool.GzipPool.Put(gz)

	raw := buf.Bytes()
	out := make([]byte, len(raw))
	copy(out, raw)

	pool.PutBuffer(buf)
	return out, nil
}
