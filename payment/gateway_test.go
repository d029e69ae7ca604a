package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway() *Gateway {
	return &Gateway{
		baseURL:          "http://gateway.test/v2",
		terminalKey:      "TestTerminal",
		terminalPassword: "secret",
	}
}

func TestGenerateToken(t *testing.T) {
	g := newTestGateway()

	token := g.generateToken(map[string]interface{}{
		"TerminalKey": "TestTerminal",
		"Amount":      int64(10000),
		"OrderId":     "topup-usr_1-a1b2c3d4",
		"Description": "Balance top-up",
	})

	// Values concatenated in key order, password included under "Password".
	raw := "10000" + "Balance top-up" + "topup-usr_1-a1b2c3d4" + "secret" + "TestTerminal"
	sum := sha256.Sum256([]byte(raw))
	assert.Equal(t, hex.EncodeToString(sum[:]), token)
}

func TestInit(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	g := newTestGateway()

	httpmock.RegisterResponder("POST", "http://gateway.test/v2/Init",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))

			assert.Equal(t, "TestTerminal", body["TerminalKey"])
			assert.Equal(t, "topup-usr_1-a1b2c3d4", body["OrderId"])
			assert.EqualValues(t, 10000, body["Amount"])
			assert.NotEmpty(t, body["Token"])

			return httpmock.NewStringResponse(200, `{
				"Success": true,
				"ErrorCode": "0",
				"Status": "NEW",
				"PaymentId": "700001",
				"OrderId": "topup-usr_1-a1b2c3d4",
				"Amount": 10000,
				"PaymentURL": "https://pay.test/700001"
			}`), nil
		})

	resp, err := g.Init("topup-usr_1-a1b2c3d4", 10000, "Balance top-up")
	require.NoError(t, err)
	assert.Equal(t, "700001", resp.PaymentID)
	assert.Equal(t, "https://pay.test/700001", resp.PaymentURL)
	assert.Equal(t, "NEW", resp.Status)
}

func TestInit_Rejected(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://gateway.test/v2/Init",
		httpmock.NewStringResponder(200, `{
			"Success": false,
			"ErrorCode": "204",
			"Message": "Duplicate order id"
		}`))

	resp, err := newTestGateway().Init("topup-usr_1-a1b2c3d4", 10000, "Balance top-up")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Contains(t, err.Error(), "Duplicate order id")
}

func TestGetState(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://gateway.test/v2/GetState",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "700001", body["PaymentId"])
			assert.NotEmpty(t, body["Token"])

			return httpmock.NewStringResponse(200, `{
				"Success": true,
				"ErrorCode": "0",
				"Status": "CONFIRMED",
				"PaymentId": "700001"
			}`), nil
		})

	resp, err := newTestGateway().GetState("700001")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", resp.Status)
}

func TestCancel(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://gateway.test/v2/Cancel",
		httpmock.NewStringResponder(200, `{
			"Success": true,
			"ErrorCode": "0",
			"Status": "CANCELED",
			"PaymentId": "700001"
		}`))

	resp, err := newTestGateway().Cancel("700001")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", resp.Status)
}
