package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultRealtimeURL = "https://api.openai.com/v1/realtime"

// SDPExchange posts the local offer to the realtime endpoint and returns the answer.
type SDPExchange struct {
	http *resty.Client
	url  string
}

func NewSDPExchange(url string, timeout time.Duration) *SDPExchange {
	if url == "" {
		url = DefaultRealtimeURL
	}
	return &SDPExchange{http: resty.New().SetTimeout(timeout), url: url}
}

func (x *SDPExchange) ExchangeSDP(ctx context.Context, credential, model, offerSDP string) (string, error) {
	resp, err := x.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetHeader("Content-Type", "application/sdp").
		SetQueryParam("model", model).
		SetBody(offerSDP).
		Post(x.url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrHandshake, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrHandshake, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	answer := resp.String()
	if !strings.HasPrefix(answer, "v=0") {
		return "", fmt.Errorf("%w: response is not an SDP answer", domain.ErrHandshake)
	}
	log.Info().Str("module", "signal").Str("model", model).Int("answer_len", len(answer)).Msg("sdp answer received")
	return answer, nil
}
