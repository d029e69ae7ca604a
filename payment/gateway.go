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

// Package payment implements the card payment gateway protocol used for
// balance top-ups. Amounts on the wire are integer minor units (kopeks).
package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"

	"github.com/pkg/errors"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/internal/request"
)

// Gateway is a client for the payment terminal API.
type Gateway struct {
	baseURL          string
	terminalKey      string
	terminalPassword string
}

// NewGateway builds a gateway client from the loaded configuration.
func NewGateway() (*Gateway, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Gateway{
		baseURL:          conf.Payment.BaseURL,
		terminalKey:      conf.Payment.TerminalKey,
		terminalPassword: conf.Payment.TerminalPassword,
	}, nil
}

// InitResponse is the gateway's answer to a payment initialization.
type InitResponse struct {
	Success    bool   `json:"Success"`
	ErrorCode  string `json:"ErrorCode"`
	Message    string `json:"Message,omitempty"`
	TerminalKey string `json:"TerminalKey,omitempty"`
	Status     string `json:"Status,omitempty"`
	PaymentID  string `json:"PaymentId,omitempty"`
	OrderID    string `json:"OrderId,omitempty"`
	Amount     int64  `json:"Amount,omitempty"`
	PaymentURL string `json:"PaymentURL,omitempty"`
}

// StateResponse is the gateway's answer to a state query or cancellation.
type StateResponse struct {
	Success   bool   `json:"Success"`
	ErrorCode string `json:"ErrorCode"`
	Message   string `json:"Message,omitempty"`
	Status    string `json:"Status,omitempty"`
	PaymentID string `json:"PaymentId,omitempty"`
	OrderID   string `json:"OrderId,omitempty"`
}

// generateToken signs request parameters the way the terminal API verifies
// them: the terminal password joins the parameters, values are concatenated
// in key order and hashed with SHA-256.
func (g *Gateway) generateToken(params map[string]interface{}) string {
	data := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	data["Password"] = g.terminalPassword

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tokenStr := ""
	for _, k := range keys {
		tokenStr += fmt.Sprintf("%v", data[k])
	}

	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

func (g *Gateway) post(method string, params map[string]interface{}, response interface{}) error {
	params["TerminalKey"] = g.terminalKey
	params["Token"] = g.generateToken(withoutToken(params))

	payload, err := request.ToJsonReq(params)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, g.baseURL+"/"+method, payload)
	if err != nil {
		return err
	}

	if _, err := request.Call(req, response); err != nil {
		return errors.Wrapf(err, "payment gateway %s call failed", method)
	}
	return nil
}

func withoutToken(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "Token" {
			continue
		}
		out[k] = v
	}
	return out
}

// Init registers a new payment for orderID. amountMinor is in minor
// currency units. The returned PaymentURL is where the payer completes the
// payment.
func (g *Gateway) Init(orderID string, amountMinor int64, description string) (*InitResponse, error) {
	params := map[string]interface{}{
		"Amount":      amountMinor,
		"OrderId":     orderID,
		"Description": description,
	}

	var response InitResponse
	if err := g.post("Init", params, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return &response, fmt.Errorf("payment init rejected: %s (code %s)", response.Message, response.ErrorCode)
	}
	return &response, nil
}

// GetState queries the current status of a payment by the gateway's own
// payment id.
func (g *Gateway) GetState(gatewayPaymentID string) (*StateResponse, error) {
	params := map[string]interface{}{
		"PaymentId": gatewayPaymentID,
	}

	var response StateResponse
	if err := g.post("GetState", params, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return &response, fmt.Errorf("payment state query rejected: %s (code %s)", response.Message, response.ErrorCode)
	}
	return &response, nil
}

// Cancel voids a payment that has not completed.
func (g *Gateway) Cancel(gatewayPaymentID string) (*StateResponse, error) {
	params := map[string]interface{}{
		"PaymentId": gatewayPaymentID,
	}

	var response StateResponse
	if err := g.post("Cancel", params, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return &response, fmt.Errorf("payment cancel rejected: %s (code %s)", response.Message, response.ErrorCode)
	}
	return &response, nil
}
