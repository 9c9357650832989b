package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-outbound/core"
)

const defaultResponseBodyLimit int64 = 1 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the client used by the default adapters.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: core.DispatchTimeout}
}

// RequestSigner mutates an outbound request before it is sent.
type RequestSigner func(req *http.Request, body []byte) error

type outboundRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Sign    RequestSigner
}

// sender performs one HTTP exchange and folds it into a DeliveryResult.
// Network and signing failures never escape as errors.
type sender struct {
	client HTTPDoer
}

func newSender(client HTTPDoer) sender {
	if client == nil {
		client = NewHTTPClient()
	}
	return sender{client: client}
}

func (s sender) send(ctx context.Context, req outboundRequest) core.DeliveryResult {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	callCtx, cancel := context.WithTimeout(ctx, core.DispatchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, method, strings.TrimSpace(req.URL), bytes.NewReader(req.Body))
	if err != nil {
		return failedResult(fmt.Sprintf("build request: %v", err))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), value)
	}
	if req.Sign != nil {
		if err := req.Sign(httpReq, req.Body); err != nil {
			return failedResult(fmt.Sprintf("sign request: %v", err))
		}
	}

	httpRes, err := s.client.Do(httpReq)
	if err != nil {
		return failedResult(err.Error())
	}
	defer httpRes.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpRes.Body, defaultResponseBodyLimit))
	if err != nil {
		return failedResult(fmt.Sprintf("read response body: %v", err))
	}
	body := core.TruncateRunes(string(raw), core.MaxResponseBodyChars)
	statusCode := httpRes.StatusCode
	if statusCode >= 200 && statusCode < 300 {
		return core.DeliveryResult{
			Success:      true,
			StatusCode:   &statusCode,
			ResponseBody: body,
		}
	}
	return core.DeliveryResult{
		Success:      false,
		StatusCode:   &statusCode,
		ErrorMessage: httpErrorMessage(statusCode, body),
		ResponseBody: body,
	}
}

func httpErrorMessage(statusCode int, body string) string {
	message := fmt.Sprintf("HTTP %d", statusCode)
	snippet := strings.TrimSpace(core.TruncateRunes(body, 300))
	if snippet == "" {
		return message
	}
	return message + ": " + snippet
}

func failedResult(message string) core.DeliveryResult {
	return core.DeliveryResult{Success: false, ErrorMessage: message}
}
