/*
Copyright 2025 Clear Transcript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package speechkit talks to the long-running speech recognition API: one
// call to start an operation, one call to poll it.
package speechkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/internal/request"
)

// EmptySpeechPlaceholder replaces an empty transcript so the stored artifact
// is never an empty file.
const EmptySpeechPlaceholder = "No speech was recognized in the audio."

// Client starts and polls long-running recognition operations.
type Client struct {
	apiURL        string
	operationsURL string
	iamToken      string
	folderID      string
	language      string
}

// NewClient builds a recognition client from the loaded configuration.
func NewClient() (*Client, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Client{
		apiURL:        conf.Recognition.APIURL,
		operationsURL: conf.Recognition.OperationsURL,
		iamToken:      conf.Recognition.IAMToken,
		folderID:      conf.Recognition.FolderID,
		language:      conf.Recognition.Language,
	}, nil
}

type recognitionSpec struct {
	LanguageCode  string `json:"languageCode"`
	AudioEncoding string `json:"audioEncoding"`
}

type recognitionConfig struct {
	Specification recognitionSpec `json:"specification"`
}

type recognitionAudio struct {
	URI string `json:"uri"`
}

type startRequest struct {
	Config   recognitionConfig `json:"config"`
	Audio    recognitionAudio  `json:"audio"`
	FolderID string            `json:"folderId"`
}

type startResponse struct {
	ID string `json:"id"`
}

// Alternative is one recognition hypothesis for a chunk. The API returns
// hypotheses ordered by confidence, best first.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Chunk is one recognized segment of the audio.
type Chunk struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   string        `json:"channelTag"`
}

// OperationResult is the payload of a finished recognition operation.
type OperationResult struct {
	Chunks []Chunk `json:"chunks"`
}

// Transcript renders the result as plain text: each chunk's top alternative
// on its own line, in the order the API returned them. An empty result
// yields EmptySpeechPlaceholder.
func (r OperationResult) Transcript() string {
	lines := make([]string, 0, len(r.Chunks))
	for _, chunk := range r.Chunks {
		if len(chunk.Alternatives) == 0 {
			continue
		}
		lines = append(lines, chunk.Alternatives[0].Text)
	}
	transcript := strings.Join(lines, "\n")
	if strings.TrimSpace(transcript) == "" {
		return EmptySpeechPlaceholder
	}
	return transcript
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationResponse struct {
	ID       string           `json:"id"`
	Done     bool             `json:"done"`
	Response *OperationResult `json:"response,omitempty"`
	Error    *operationError  `json:"error,omitempty"`
}

// Operation is a poll snapshot of a recognition operation. Exactly one of
// Result and Err is set once Done is true. Raw carries the operation body
// exactly as the API returned it, so callers can persist it verbatim.
type Operation struct {
	Done   bool
	Raw    json.RawMessage
	Result *OperationResult
	Err    error
}

// Start submits the audio at uri for recognition and returns the operation
// handle to poll.
func (c *Client) Start(uri string) (string, error) {
	payload, err := request.ToJsonReq(startRequest{
		Config: recognitionConfig{
			Specification: recognitionSpec{
				LanguageCode:  c.language,
				AudioEncoding: "OGG_OPUS",
			},
		},
		Audio:    recognitionAudio{URI: uri},
		FolderID: c.folderID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.apiURL, payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", request.BearerAuth(c.iamToken))

	var response startResponse
	if _, err := request.Call(req, &response); err != nil {
		return "", errors.Wrap(err, "failed to start recognition")
	}
	if response.ID == "" {
		return "", errors.New("recognition API returned no operation id")
	}

	return response.ID, nil
}

// Poll checks the state of a recognition operation. A transport or API
// failure is returned as a plain error and does not decide the operation;
// the caller retries on the next cycle.
func (c *Client) Poll(operationHandle string) (Operation, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s", c.operationsURL, operationHandle), nil)
	if err != nil {
		return Operation{}, err
	}
	req.Header.Set("Authorization", request.BearerAuth(c.iamToken))

	var raw json.RawMessage
	if _, err := request.Call(req, &raw); err != nil {
		return Operation{}, errors.Wrap(err, "failed to poll recognition operation")
	}

	var response operationResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return Operation{}, errors.Wrap(err, "failed to decode recognition operation")
	}

	if !response.Done {
		return Operation{Done: false}, nil
	}
	if response.Error != nil {
		return Operation{
			Done: true,
			Raw:  raw,
			Err:  fmt.Errorf("recognition failed: %s (code %d)", response.Error.Message, response.Error.Code),
		}, nil
	}
	if response.Response == nil {
		// Done without response or error should not happen; treat it as a
		// failed operation rather than an empty transcript.
		return Operation{Done: true, Raw: raw, Err: errors.New("recognition finished without a result")}, nil
	}

	return Operation{Done: true, Raw: raw, Result: response.Response}, nil
}
