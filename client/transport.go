package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// WrapHTTPClient wraps a standard HTTP client so that 402 responses are
// paid and retried transparently through tollClient. The wrapped client
// behaves like any other *http.Client.
func WrapHTTPClient(httpClient *http.Client, tollClient *Client) *http.Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	httpClient.Transport = &paymentRoundTripper{
		transport:  transport,
		tollClient: tollClient,
	}
	return httpClient
}

// paymentRoundTripper implements http.RoundTripper with L402 payment
// handling: at most one pay-and-retry per request.
type paymentRoundTripper struct {
	transport  http.RoundTripper
	tollClient *Client
}

func (t *paymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Buffer the body up front; a 402 means the request is sent twice.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || !t.tollClient.autoRetry {
		return resp, nil
	}

	challengeBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	result, err := t.tollClient.payAndRetry(req.Context(), req.Method, req.URL.String(),
		body, &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: challengeBody})
	if err != nil {
		return nil, err
	}

	retried := &http.Response{
		StatusCode: result.StatusCode,
		Status:     fmt.Sprintf("%d %s", result.StatusCode, http.StatusText(result.StatusCode)),
		Header:     result.Header,
		Body:       io.NopCloser(bytes.NewReader(result.Body)),
		Request:    req,
		Proto:      resp.Proto,
		ProtoMajor: resp.ProtoMajor,
		ProtoMinor: resp.ProtoMinor,
	}
	return retried, nil
}
