// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) get(route string) (int, []byte, error) {
	url := "http://" + hr.serverIP + ":" + hr.serverPort + route
	resp, err := http.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (hr *HttpReader) GetHello() (string, error) {
	_, body, err := hr.get(ROUTE_HELLO)
	return string(body), err
}

func (hr *HttpReader) GetStatus() (*Status, error) {
	code, body, err := hr.get(ROUTE_STATUS)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", code, body)
	}

	st := &Status{}
	if err := json.Unmarshal(body, st); err != nil {
		return nil, err
	}
	return st, nil
}

// GetRelease returns the raw body and http status of a release lookup.
func (hr *HttpReader) GetRelease(btcTxID string) (int, string, error) {
	code, body, err := hr.get(ROUTE_RELEASE + "?btc_tx_id=" + btcTxID)
	return code, string(body), err
}

func (hr *HttpReader) GetMetrics() (string, error) {
	_, body, err := hr.get(ROUTE_METRICS)
	return string(body), err
}
