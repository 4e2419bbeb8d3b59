// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/btcsuite/btcledger/pkg/unit"
)

const (
	// DefaultFeeURL is the recommended fees endpoint queried when no other
	// URL is configured.
	DefaultFeeURL = "https://mempool.space/api/v1/fees/recommended"

	// maxSaneRate is the highest rate accepted from a web source.
	maxSaneRate = 10_000

	// requestTimeout bounds a single fee request.
	requestTimeout = 10 * time.Second
)

// Source fetches a current fee rate.
type Source interface {
	// FetchSatPerByte returns the rate for next-block confirmation.
	FetchSatPerByte(ctx context.Context) (unit.SatPerByte, error)
}

// WebAPISource reads the "fastestFee" field of a recommended fees JSON
// endpoint, in satoshis per byte.
type WebAPISource struct {
	url    string
	client *http.Client
}

// A compile-time assertion to ensure that WebAPISource implements Source.
var _ Source = (*WebAPISource)(nil)

// NewWebAPISource creates a source querying url.
func NewWebAPISource(url string) *WebAPISource {
	// A dedicated client keeps a slow service from holding up the
	// refresh.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &WebAPISource{
		url: url,
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
	}
}

// recommendedFees is the response of the recommended fees endpoint.
type recommendedFees struct {
	FastestFee json.Number `json:"fastestFee"`
}

// FetchSatPerByte queries the endpoint.
func (w *WebAPISource) FetchSatPerByte(ctx context.Context) (unit.SatPerByte,
	error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return unit.SatPerByte{}, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return unit.SatPerByte{}, fmt.Errorf("unable to query %v: %w",
			w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unit.SatPerByte{}, fmt.Errorf("%v returned %v", w.url,
			resp.Status)
	}

	return parseRecommended(resp.Body)
}

// parseRecommended decodes a recommended fees response.
func parseRecommended(r io.Reader) (unit.SatPerByte, error) {
	var fees recommendedFees
	if err := json.NewDecoder(r).Decode(&fees); err != nil {
		return unit.SatPerByte{}, fmt.Errorf("invalid fee response: %w",
			err)
	}
	if fees.FastestFee == "" {
		return unit.SatPerByte{}, fmt.Errorf("fee response has no " +
			"fastestFee")
	}

	rate, err := unit.ParseSatPerByte(fees.FastestFee.String())
	if err != nil {
		return unit.SatPerByte{}, err
	}
	if rate.IsZero() ||
		rate.Cmp(unit.NewSatPerByte(maxSaneRate).Rat) > 0 {

		return unit.SatPerByte{}, fmt.Errorf("fee rate %v out of "+
			"range", rate)
	}

	return rate, nil
}
