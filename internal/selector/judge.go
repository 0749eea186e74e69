// internal/selector/judge.go
package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"authtrace/internal/metrics"
	"authtrace/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Anthropic Messages API 상수.
// provider SDK는 쓰지 않는다. wire 계약이 단순해서 net/http로 충분하고,
// 응답 파싱 경계(parse.go)를 한 곳에 고정하는 편이 테스트에 유리하다.
const (
	defaultBaseURL  = "https://api.anthropic.com"
	messagesPath    = "/v1/messages"
	apiVersion      = "2023-06-01"
	defaultModel    = "claude-opus-4-20250514"
	defaultMaxToken = 2048

	systemPrompt = "You are a helpful assistant that returns only JSON arrays."
)

// Judge
// ------------------------------------------------------------
// 원격 selector 변형. candidate log 전체를 컨텍스트로 싣고
// 로그인 흐름에 인과적으로 연관된 requestId 목록을 판정받는다.
//
// 신뢰성 정책:
//   - 시도당 Timeout (context 기반)
//   - 일시 장애(네트워크, 429, 5xx)에 한해 bounded retry + backoff
//   - credential 부재는 네트워크 호출 전에 ErrJudgeAuth
//   - 파싱 실패/빈 결과/초과 결과는 hard error (조용한 degrade 금지)
type Judge struct {
	APIKey  string
	Model   string
	BaseURL string // 테스트에서 httptest 서버로 교체

	MaxTokens int
	Timeout   time.Duration // 시도당 timeout
	Retries   int           // 추가 재시도 횟수 (기본 1회)

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

func NewJudge(apiKey string, m *metrics.Metrics) *Judge {
	return &Judge{
		APIKey:    apiKey,
		Model:     defaultModel,
		BaseURL:   defaultBaseURL,
		MaxTokens: defaultMaxToken,
		Timeout:   90 * time.Second,
		Retries:   1,
		Metrics:   m,
	}
}

// ---- Messages API wire 타입 ----

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []wireContent `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Select는 Selector 계약을 구현한다.
func (j *Judge) Select(ctx context.Context, candidates []model.Event, k int) ([]string, error) {
	k = normalizeK(k)

	if strings.TrimSpace(j.APIKey) == "" {
		return nil, ErrJudgeAuth
	}

	_, order := candidateIDSet(candidates)
	if len(order) == 0 {
		return nil, nil
	}

	prompt, err := j.buildPrompt(candidates, k)
	if err != nil {
		return nil, fmt.Errorf("judge: encode candidates: %w", err)
	}

	body, err := j.call(ctx, prompt)
	if err != nil {
		return nil, err
	}

	ids, err := ParseIDArray(body)
	if err != nil {
		if j.Metrics != nil {
			atomic.AddInt64(&j.Metrics.JudgeParseErrorsTotal, 1)
		}
		return nil, err
	}

	return j.validate(ids, order, k, body)
}

// buildPrompt는 llm.py의 판정 기준을 그대로 옮긴 instruction에
// candidate log 전체(JSON, indent)를 붙인다.
func (j *Judge) buildPrompt(candidates []model.Event, k int) (string, error) {
	data, err := json.MarshalIndentWithOption(candidates, "", "  ", json.DisableHTMLEscape())
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb,
		"Given the following network log entries in JSON, "+
			"return the unique 'requestId' values of at most %d objects that are most critical for the login process, "+
			"ordered from most to least critical. ", k)
	sb.WriteString(
		"Critical objects include any request or event directly involved in authentication, " +
			"credential submission, session/token exchange, security verification, " +
			"or that provides a value (such as TOKEN, DEVICE_SESSION, transkeyUuid, or any other field) " +
			"used in another login-related request. " +
			"If a POST request or its headers contains a value that matches a value in a previous or subsequent " +
			"network event (for example, in 'postData', 'postDataEntries', headers, or any nested field), " +
			"then both the POST request and the matching network event are critical for the login process. " +
			"For example, if request A has 'TOKEN=abc' and request B uses 'TOKEN=abc', both A and B are critical. " +
			"Return a JSON array of 'requestId' strings only, no explanation. " +
			"If an object does not have a 'requestId', skip it. " +
			"Here is the data:\n")
	sb.Write(data)

	return sb.String(), nil
}

// call은 Messages API를 호출해 첫 text 블록을 반환한다.
// 일시 장애에 한해 Retries 횟수만큼 backoff 재시도한다.
func (j *Judge) call(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(messagesRequest{
		Model:       j.model(),
		MaxTokens:   j.maxTokens(),
		Temperature: 1,
		System:      systemPrompt,
		Messages: []wireMessage{{
			Role:    "user",
			Content: []wireContent{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("judge: encode request: %w", err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	attempts := j.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if j.Metrics != nil {
			atomic.AddInt64(&j.Metrics.JudgeCallsTotal, 1)
		}

		text, retryable, err := j.callOnce(ctx, reqBody)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// credential/파싱류 실패는 재시도해도 소용없다.
		if !retryable {
			return "", err
		}

		if attempt == attempts {
			break
		}

		if j.Metrics != nil {
			atomic.AddInt64(&j.Metrics.JudgeRetriesTotal, 1)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("judge call failed, retrying")

		select {
		case <-ctx.Done():
			return "", classifyTransport(ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return "", lastErr
}

// callOnce는 1회 호출만 담당한다. retryable 플래그로
// 일시 장애(네트워크/429/5xx)와 영구 실패를 구분한다.
func (j *Judge) callOnce(ctx context.Context, reqBody []byte) (text string, retryable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, j.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(
		attemptCtx, http.MethodPost, j.baseURL()+messagesPath, bytes.NewReader(reqBody))
	if err != nil {
		return "", false, fmt.Errorf("judge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", j.APIKey)
	req.Header.Set("Anthropic-Version", apiVersion)

	resp, err := j.client().Do(req)
	if err != nil {
		return "", true, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", false, fmt.Errorf("%w: status %d", ErrJudgeAuth, resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// rate limit / overloaded(529 포함) / 서버 오류 → 재시도 대상
		return "", true, fmt.Errorf("%w: status %d", ErrJudgeNetwork, resp.StatusCode)

	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("%w: status %d", ErrJudgeNetwork, resp.StatusCode)
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", false, &ParseError{Reason: "response body is not valid JSON", Snippet: snippet(string(raw))}
	}
	if mr.Error != nil {
		return "", false, fmt.Errorf("%w: %s: %s", ErrJudgeNetwork, mr.Error.Type, mr.Error.Message)
	}
	if len(mr.Content) == 0 || mr.Content[0].Text == "" {
		return "", false, &ParseError{Reason: "response has no text content", Snippet: snippet(string(raw))}
	}

	return mr.Content[0].Text, false, nil
}

// validate는 judge 결과에 selector 계약을 강제한다.
//   - 빈 결과 / k 초과 결과 → hard error
//   - candidate에 없는 id, 중복 id는 제거 (judge의 환각 방어)
func (j *Judge) validate(ids []string, order []string, k int, body string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ParseError{Reason: "judge returned an empty result", Snippet: snippet(body)}
	}
	if len(ids) > k {
		return nil, &ParseError{
			Reason:  fmt.Sprintf("judge returned %d ids, limit is %d", len(ids), k),
			Snippet: snippet(body),
		}
	}

	known := make(map[string]struct{}, len(order))
	for _, id := range order {
		known[id] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			log.Warn().Str("requestId", id).Msg("judge returned unknown requestId, dropped")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if len(out) == 0 {
		return nil, &ParseError{Reason: "no returned id exists in the candidate log", Snippet: snippet(body)}
	}
	return out, nil
}

// classifyTransport는 전송 계층 에러를 timeout/network로 분류한다.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrJudgeTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrJudgeNetwork, err)
}

func (j *Judge) model() string {
	if j.Model != "" {
		return j.Model
	}
	return defaultModel
}

func (j *Judge) maxTokens() int {
	if j.MaxTokens > 0 {
		return j.MaxTokens
	}
	return defaultMaxToken
}

func (j *Judge) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return 90 * time.Second
}

func (j *Judge) baseURL() string {
	if j.BaseURL != "" {
		return strings.TrimRight(j.BaseURL, "/")
	}
	return defaultBaseURL
}

func (j *Judge) client() *http.Client {
	if j.HTTPClient != nil {
		return j.HTTPClient
	}
	return http.DefaultClient
}
