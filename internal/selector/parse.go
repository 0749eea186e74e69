// internal/selector/parse.go
package selector

import (
	"strings"

	json "github.com/goccy/go-json"
)

// ------------------------------------------------------------
// judge 응답 파싱 경계.
//
// 원격 judge는 text-generation 서비스라서, JSON 배열만 요구해도
// 앞뒤 설명 문장이나 ```json fence가 붙어서 올 수 있다.
// 이런 텍스트 blob 대응은 깨지기 쉬우므로 이 파일 하나에만 모아 두고,
// 합성 불량 입력으로 단위 테스트한다.
// ------------------------------------------------------------

const snippetLimit = 200

// ParseIDArray는 judge 응답 본문에서 requestId 문자열 배열을 꺼낸다.
// 실패 시 *ParseError (원문 snippet 포함).
func ParseIDArray(body string) ([]string, error) {
	payload, err := extractArray(body)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, &ParseError{Reason: "not a JSON array of strings", Snippet: snippet(body)}
	}
	return ids, nil
}

// ParseObjectArray는 full-object 모드 응답(이벤트 전체 메타데이터 배열)을
// raw JSON 오브젝트 목록으로 꺼낸다.
//
// 파이프라인은 requestId 모드로만 judge를 호출한다 (critical artifact가
// candidate log에서 투영되므로 full-object 응답이 필요 없다).
// 이 파서는 judge가 반환할 수 있는 나머지 응답 모드의 wire 계약으로,
// 응답 원문을 직접 다루는 보조 도구를 위해 유지한다.
func ParseObjectArray(body string) ([]json.RawMessage, error) {
	payload, err := extractArray(body)
	if err != nil {
		return nil, err
	}

	var objs []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &objs); err != nil {
		return nil, &ParseError{Reason: "not a JSON array of objects", Snippet: snippet(body)}
	}
	return objs, nil
}

// extractArray는 code fence와 전후 prose를 제거하고
// 첫 '['부터 짝이 맞는 ']'까지의 배열 본문을 반환한다.
func extractArray(body string) (string, error) {
	s := stripFences(body)

	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", &ParseError{Reason: "no JSON array found", Snippet: snippet(body)}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	// 닫는 bracket을 찾지 못함 (응답이 중간에 잘린 경우 등).
	return "", &ParseError{Reason: "unterminated JSON array", Snippet: snippet(body)}
}

// stripFences는 ```json / ``` 마커를 라인 단위로 제거한다.
func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > snippetLimit {
		return s[:snippetLimit]
	}
	return s
}
