package utils

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"coursebank/config"
)

// TranscriptionClient talks to the video pipeline's transcript-credentials
// endpoint on behalf of the platform service account.
type TranscriptionClient struct {
	Enabled      bool
	APIURL       string
	ServiceToken string
	HTTPClient   *fasthttp.Client
}

func NewTranscriptionClient(cfg config.VideoPipelineConfig) *TranscriptionClient {
	return &TranscriptionClient{
		Enabled:      cfg.Enabled,
		APIURL:       cfg.APIURL,
		ServiceToken: cfg.ServiceToken,
		HTTPClient: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// UpdateTranscriptCredentials pushes a third-party transcription provider's
// credentials (org, provider, api key material) to the pipeline. Returns
// whether the update was accepted; a disabled integration never makes a call.
func (tc *TranscriptionClient) UpdateTranscriptCredentials(payload map[string]interface{}) bool {
	if !tc.Enabled {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("failed to encode transcript credentials payload")
		return false
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(tc.APIURL, "/") + "/transcript_credentials/")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+tc.ServiceToken)
	req.SetBody(body)

	if err := tc.HTTPClient.Do(req, resp); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"org":      payload["org"],
			"provider": payload["provider"],
		}).Error("transcript credentials update failed")
		return false
	}
	if resp.StatusCode() >= 300 {
		logrus.WithFields(logrus.Fields{
			"status":   resp.StatusCode(),
			"org":      payload["org"],
			"provider": payload["provider"],
		}).Error("transcript credentials update rejected by pipeline")
		return false
	}
	return true
}
