// internal/pipeline/io.go
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"authtrace/internal/model"

	json "github.com/goccy/go-json"
)

// ------------------------------------------------------------
// 파이프라인 에러 분류.
// 입력/출력 실패는 모두 fatal이고 부분 처리를 남기지 않는다.
// ------------------------------------------------------------

var (
	// ErrInputNotFound: 입력 파일 없음.
	ErrInputNotFound = errors.New("pipeline: input file not found")

	// ErrInputMalformed: 입력이 Event 배열 JSON이 아님.
	ErrInputMalformed = errors.New("pipeline: input is not a valid event log")

	// ErrOutputWrite: artifact 저장 실패. 시도한 경로가 메시지에 포함된다.
	ErrOutputWrite = errors.New("pipeline: output write failed")
)

// LoadLog는 디스크의 JSON 배열을 이벤트 목록으로 읽는다.
// 레코드 단위 원본은 각 Event.Raw에 보존된다.
func LoadLog(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInputNotFound, path, err)
	}

	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputMalformed, path, err)
	}
	return events, nil
}

// WriteArtifact는 이벤트 목록을 사람이 읽을 수 있는 indent 포함
// UTF-8 JSON으로 원자적으로 저장한다.
//
// 같은 디렉토리에 임시 파일을 만들고 rename하는 방식이라
// 프로세스가 중간에 죽어도 절반만 쓰인 artifact가 남지 않는다.
func WriteArtifact(path string, events []model.Event) error {
	data, err := json.MarshalIndentWithOption(events, "", "  ", json.DisableHTMLEscape())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}

	// rename이 같은 파일시스템 안에서 일어나도록 임시 파일은 같은 디렉토리에 만든다.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrOutputWrite, path, err)
	}
	return nil
}
