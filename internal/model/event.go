// internal/model/event.go
package model

import (
	json "github.com/goccy/go-json"
)

// 브라우저 네트워크 트레이스(CDP 계열)의 이벤트 type 태그.
// 이 세 가지 외의 type은 파이프라인에서 무시된다.
const (
	TypeRequestWillBeSent      = "Network.requestWillBeSent"
	TypeWebSocketFrameReceived = "Network.webSocketFrameReceived"
	TypeWebSocketFrameSent     = "Network.webSocketFrameSent"
)

// Event
// ------------------------------------------------------------
// 캡처된 네트워크 트레이스의 단일 로그 레코드.
// 필터링 파이프라인 전체에서 데이터의 "기본 단위"가 된다.
//
// 파이프라인은 이벤트를 절대 변형하지 않는다(필터이지 변환이 아님).
// 그래서 입력 JSON 원본 바이트를 Raw에 그대로 보관하고,
// 출력 시에는 Raw를 그대로 다시 내보낸다.
// Type/Data는 규칙 판정을 위해 파싱해 둔 "읽기 전용 뷰"일 뿐이다.
type Event struct {
	Type string
	Data EventData

	// 입력에서 읽은 원본 레코드. 출력 직렬화 시 그대로 사용된다.
	Raw json.RawMessage
}

// EventData는 이벤트 내부 data 오브젝트의 파싱 뷰.
// Request/Response는 이벤트 종류에 따라 둘 중 하나만 존재할 수 있고,
// 둘 다 없을 수도 있다 (structurally broken → 규칙 엔진에서 drop).
type EventData struct {
	RequestID string    `json:"requestId"`
	Request   *Request  `json:"request"`
	Response  *Response `json:"response"`
}

// Request는 Network.requestWillBeSent 이벤트의 요청 메타데이터.
type Request struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	HasPostData     bool              `json:"hasPostData"`
	PostData        string            `json:"postData"`
	PostDataEntries []PostDataEntry   `json:"postDataEntries"`
	Headers         map[string]string `json:"headers"`
	InitialPriority string            `json:"initialPriority"`
	IsSameSite      bool              `json:"isSameSite"`
}

// PostDataEntry는 postData가 분할 전송된 경우의 조각.
type PostDataEntry struct {
	Bytes string `json:"bytes"`
}

// Response는 websocket frame 이벤트의 페이로드 영역.
// (CDP는 frame 데이터를 response.payloadData에 싣는다)
type Response struct {
	PayloadData string            `json:"payloadData"`
	Headers     map[string]string `json:"headers"`
}

// eventView는 UnmarshalJSON에서 재귀를 피하기 위한 내부 타입.
type eventView struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// UnmarshalJSON은 레코드 원본을 Raw에 보존하면서 파싱 뷰를 채운다.
// data 내부 필드가 일부 깨져 있어도 파싱 가능한 범위까지만 채우고
// 에러는 레코드 단위로만 반환한다.
func (e *Event) UnmarshalJSON(b []byte) error {
	var v eventView
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	e.Type = v.Type
	e.Data = v.Data

	// goccy/go-json은 입력 버퍼를 재사용할 수 있으므로 반드시 복사해서 보관.
	e.Raw = make(json.RawMessage, len(b))
	copy(e.Raw, b)

	return nil
}

// MarshalJSON은 항상 입력 원본(Raw)을 그대로 반환한다.
// 파싱 뷰에서 탈락한 미지의 필드까지 손실 없이 보존하기 위함이다.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	// Raw가 없는 경우(코드에서 직접 생성한 이벤트)만 뷰를 직렬화.
	return json.Marshal(eventView{Type: e.Type, Data: e.Data})
}

// RequestID는 data.requestId를 반환한다. 없으면 빈 문자열.
// requestId가 없는 이벤트는 critical 후보로 선택될 수 없다.
func (e *Event) RequestID() string {
	return e.Data.RequestID
}

// PostBody는 요청 이벤트의 본문 텍스트를 반환한다.
// postData가 비어 있으면 postDataEntries 조각을 이어 붙인다.
func (e *Event) PostBody() string {
	req := e.Data.Request
	if req == nil {
		return ""
	}
	if req.PostData != "" {
		return req.PostData
	}
	if len(req.PostDataEntries) == 0 {
		return ""
	}
	var body string
	for _, entry := range req.PostDataEntries {
		body += entry.Bytes
	}
	return body
}

// FramePayload는 websocket frame 이벤트의 payloadData를 반환한다.
// response 영역이 없으면 두 번째 반환값이 false.
func (e *Event) FramePayload() (string, bool) {
	if e.Data.Response == nil {
		return "", false
	}
	return e.Data.Response.PayloadData, true
}

// IsWebSocketFrame은 sent/received 프레임 여부.
func (e *Event) IsWebSocketFrame() bool {
	return e.Type == TypeWebSocketFrameReceived || e.Type == TypeWebSocketFrameSent
}
