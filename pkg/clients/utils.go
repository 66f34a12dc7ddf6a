package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func BuildHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}

	return &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}
}

func Post[T any](ctx context.Context, client *http.Client, url string, data any, knownErrors map[int][]error) (T, error) {
	return requestWithBody[T](ctx, client, "POST", url, data, knownErrors)
}

func Put[T any](ctx context.Context, client *http.Client, url string, data any, knownErrors map[int][]error) (T, error) {
	return requestWithBody[T](ctx, client, "PUT", url, data, knownErrors)
}

func requestWithBody[T any](ctx context.Context, client *http.Client, method string, url string, data any, knownErrors map[int][]error) (T, error) {
	var m T
	b, err := json.Marshal(data)
	if err != nil {
		return m, err
	}

	byteReader := bytes.NewReader(b)
	r, err := http.NewRequestWithContext(ctx, method, url, byteReader)
	if err != nil {
		return m, err
	}

	r.Header.Add("Content-Type", "application/json")
	res, err := client.Do(r)
	if err != nil {
		return m, err
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return m, err
	}

	if res.StatusCode != 200 && res.StatusCode != 201 {
		return m, nonOKResponseToError(res.StatusCode, body, knownErrors)
	}

	return ParseJSON[T](body)
}

func Get[T any](ctx context.Context, client *http.Client, url string, knownErrors map[int][]error) (T, error) {
	var m T
	r, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return m, err
	}

	r.Header.Add("Content-Type", "application/json")
	res, err := client.Do(r)
	if err != nil {
		return m, err
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return m, err
	}

	if res.StatusCode != 200 {
		return m, nonOKResponseToError(res.StatusCode, body, knownErrors)
	}

	return ParseJSON[T](body)
}

func ParseJSON[T any](s []byte) (T, error) {
	var r T
	if err := json.Unmarshal(s, &r); err != nil {
		return r, err
	}
	return r, nil
}

func nonOKResponseToError(resStatusCode int, resBody []byte, knownErrors map[int][]error) error {
	type errJson struct {
		Err string `json:"err"`
	}

	decodedErr, err := ParseJSON[errJson](resBody)
	if err != nil {
		return fmt.Errorf("unexpected status code %d. Body err msg could not be decoded: %s", resStatusCode, string(resBody))
	}

	errsInStatusCode := knownErrors[resStatusCode]
	for _, errInSC := range errsInStatusCode {
		if errInSC.Error() == decodedErr.Err {
			return errInSC
		}
	}

	return fmt.Errorf("unexpected status code %d. No expected error matching found: %s", resStatusCode, string(resBody))
}
