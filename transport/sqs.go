package transport

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/transport/sigv4"
)

const (
	defaultSQSRegion  = "us-east-1"
	sqsService        = "sqs"
	sqsAPIVersion     = "2012-11-05"
	maxSQSDelaySecond = 900
)

var sqsRegionPattern = regexp.MustCompile(`(?:^|\.)sqs\.([a-z0-9-]+)\.`)

// SQSAdapter sends one SendMessage call per delivery over the Query protocol.
type SQSAdapter struct {
	sender sender
	now    func() time.Time
}

func NewSQSAdapter(client HTTPDoer, now func() time.Time) *SQSAdapter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQSAdapter{sender: newSender(client), now: now}
}

func (*SQSAdapter) Type() core.ConnectorType {
	return core.ConnectorTypeSQS
}

func (a *SQSAdapter) Validate(cfg core.ConnectorConfig) error {
	for _, field := range []string{"queue_url", "access_key_id", "secret_access_key"} {
		if stringValue(cfg, field) == "" {
			return requiredField(core.ConnectorTypeSQS, field)
		}
	}
	queueURL := stringValue(cfg, "queue_url")
	if !validHTTPURL(queueURL) {
		return configError(core.ConnectorTypeSQS, "queue_url must be an http or https url", map[string]any{"field": "queue_url"})
	}
	if IsFIFOQueue(queueURL) && stringValue(cfg, "message_group_id") == "" {
		return configError(core.ConnectorTypeSQS, "message_group_id is required for fifo queues", map[string]any{"field": "message_group_id"})
	}
	delay, present, err := intValue(cfg, "delay_seconds")
	if err != nil {
		return configError(core.ConnectorTypeSQS, err.Error(), map[string]any{"field": "delay_seconds"})
	}
	if present && (delay < 0 || delay > maxSQSDelaySecond) {
		return configError(core.ConnectorTypeSQS, "delay_seconds must be between 0 and 900", map[string]any{"field": "delay_seconds"})
	}
	return nil
}

func (a *SQSAdapter) Dispatch(ctx context.Context, payload map[string]any, cfg core.ConnectorConfig) core.DeliveryResult {
	if err := a.Validate(cfg); err != nil {
		return failedResult(err.Error())
	}
	form, err := sendMessageForm(payload, cfg)
	if err != nil {
		return failedResult(err.Error())
	}
	queueURL := stringValue(cfg, "queue_url")
	signer := sigv4.Signer{
		Credentials: sigv4.Credentials{
			AccessKeyID:     stringValue(cfg, "access_key_id"),
			SecretAccessKey: stringValue(cfg, "secret_access_key"),
			SessionToken:    stringValue(cfg, "session_token"),
		},
		Region:  ResolveSQSRegion(queueURL, stringValue(cfg, "region")),
		Service: sqsService,
		Now:     a.now,
	}
	return a.sender.send(ctx, outboundRequest{
		Method:  http.MethodPost,
		URL:     queueURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded; charset=utf-8"},
		Body:    []byte(form.Encode()),
		Sign:    signer.SignHTTP,
	})
}

func sendMessageForm(payload map[string]any, cfg core.ConnectorConfig) (url.Values, error) {
	body, err := encodeJSON(payload)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("Action", "SendMessage")
	form.Set("Version", sqsAPIVersion)
	form.Set("MessageBody", string(body))
	if delay, present, _ := intValue(cfg, "delay_seconds"); present {
		form.Set("DelaySeconds", strconv.Itoa(delay))
	}
	if IsFIFOQueue(stringValue(cfg, "queue_url")) {
		dedupID, err := core.PayloadHash(payload)
		if err != nil {
			return nil, err
		}
		form.Set("MessageGroupId", stringValue(cfg, "message_group_id"))
		form.Set("MessageDeduplicationId", dedupID)
	}
	return form, nil
}

func IsFIFOQueue(queueURL string) bool {
	return strings.HasSuffix(strings.TrimRight(strings.TrimSpace(queueURL), "/"), ".fifo")
}

// ResolveSQSRegion prefers the explicit region, then the queue host.
func ResolveSQSRegion(queueURL string, explicit string) string {
	if region := strings.TrimSpace(explicit); region != "" {
		return region
	}
	parsed, err := url.Parse(strings.TrimSpace(queueURL))
	if err == nil {
		if match := sqsRegionPattern.FindStringSubmatch(strings.ToLower(parsed.Hostname())); len(match) == 2 {
			return match[1]
		}
	}
	return defaultSQSRegion
}
