package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"dmsp/internal/peptide"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const availableStatus = `{"model_version_status":[{"version":"2","state":"AVAILABLE","status":{"error_code":"OK","error_message":""}}]}`

const metadata81 = `{"model_spec":{"name":"detectability","version":"2"},"metadata":{"signature_def":{"signature_def":{"serving_default":{"inputs":{"input_1":{"dtype":"DT_FLOAT","tensor_shape":{"dim":[{"size":"-1","name":""},{"size":"81","name":""}],"unknown_rank":false},"name":"serving_default_input_1:0"}}}}}}}`

// fakeServing answers status, metadata and predict calls; predict returns
// first-code/100 for every instance so order can be checked.
func fakeServing(t *testing.T, status, metadata string, requests *int) {
	t.Helper()
	old := httpClient
	t.Cleanup(func() { httpClient = old })
	httpClient = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		switch {
		case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/metadata"):
			if metadata == "" {
				return jsonResponse(404, `{"error":"not found"}`), nil
			}
			return jsonResponse(200, metadata), nil
		case r.Method == "GET":
			return jsonResponse(200, status), nil
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, ":predict"):
			*requests++
			var req struct {
				Instances [][]int32 `json:"instances"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("bad request body: %v", err)
			}
			preds := make([][]float64, len(req.Instances))
			for i, in := range req.Instances {
				preds[i] = []float64{float64(in[0]) / 100}
			}
			b, _ := json.Marshal(map[string]any{"predictions": preds})
			return jsonResponse(200, string(b)), nil
		}
		return jsonResponse(404, ""), nil
	})}
}

func encodeAll(t *testing.T, seqs ...string) []peptide.Vector {
	t.Helper()
	out := make([]peptide.Vector, len(seqs))
	for i, s := range seqs {
		v, err := peptide.Encode(s, peptide.DefaultMaxLength)
		if err != nil {
			t.Fatalf("encode %q: %v", s, err)
		}
		out[i] = v
	}
	return out
}

func TestTFServingPredictKeepsOrder(t *testing.T) {
	requests := 0
	fakeServing(t, availableStatus, metadata81, &requests)
	c, err := Load(context.Background(), Config{Backend: BackendTFServing, URL: "http://serving:8501/", Name: "detectability", Version: "2", MaxBatch: 2, InputLength: 81})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer c.Close()

	got, err := c.Predict(context.Background(), encodeAll(t, "A", "R", "N", "D", "C"))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := []float64{0.01, 0.02, 0.03, 0.04, 0.05}
	if len(got) != len(want) {
		t.Fatalf("expected %d probabilities, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if requests != 3 {
		t.Fatalf("expected 3 requests with max batch 2, got %d", requests)
	}
}

func TestTFServingLoadFailures(t *testing.T) {
	cases := []struct {
		name     string
		status   string
		metadata string
		width    int
	}{
		{"not available", `{"model_version_status":[{"version":"1","state":"LOADING","status":{"error_code":"OK"}}]}`, "", 81},
		{"bad json", `<html>`, "", 81},
		{"width mismatch", availableStatus, metadata81, 50},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			fakeServing(t, tt.status, tt.metadata, &n)
			_, err := Load(context.Background(), Config{Backend: BackendTFServing, URL: "http://serving:8501", Name: "m", InputLength: tt.width})
			if !errors.Is(err, ErrModelLoad) {
				t.Fatalf("expected ErrModelLoad, got %v", err)
			}
		})
	}
}

func TestTFServingWithoutMetadata(t *testing.T) {
	n := 0
	fakeServing(t, availableStatus, "", &n)
	if _, err := Load(context.Background(), Config{Backend: BackendTFServing, URL: "http://serving:8501", Name: "m", InputLength: 81}); err != nil {
		t.Fatalf("expected load to succeed without metadata endpoint, got %v", err)
	}
}

func TestTFServingUnreachable(t *testing.T) {
	old := httpClient
	t.Cleanup(func() { httpClient = old })
	httpClient = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	_, err := Load(context.Background(), Config{Backend: BackendTFServing, URL: "http://serving:8501", Name: "m"})
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	if _, err := Load(context.Background(), Config{Backend: "onnx"}); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestDecodePredictions(t *testing.T) {
	raw := []json.RawMessage{json.RawMessage(`0.25`), json.RawMessage(`[0.1, 0.9]`)}
	got, err := decodePredictions(raw, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != 0.25 || got[1] != 0.9 {
		t.Fatalf("unexpected probabilities %v", got)
	}
	if _, err := decodePredictions([]json.RawMessage{json.RawMessage(`[0.1]`)}, 1); err == nil {
		t.Fatalf("expected out-of-range output index error")
	}
	if _, err := decodePredictions([]json.RawMessage{json.RawMessage(`"x"`)}, 0); err == nil {
		t.Fatalf("expected error for string output")
	}
	nulls := []struct {
		raw string
		idx int
	}{{`null`, 0}, {`[null]`, 0}, {`[0.2, null]`, 1}}
	for _, c := range nulls {
		_, err := decodePredictions([]json.RawMessage{json.RawMessage(c.raw)}, c.idx)
		if !errors.Is(err, ErrBadProbability) {
			t.Fatalf("expected ErrBadProbability for %s, got %v", c.raw, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(2, []float64{0.1}); !errors.Is(err, ErrPredictionCount) {
		t.Fatalf("expected ErrPredictionCount, got %v", err)
	}
	if err := Validate(1, []float64{1.5}); !errors.Is(err, ErrBadProbability) {
		t.Fatalf("expected ErrBadProbability, got %v", err)
	}
	if err := Validate(2, []float64{0, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestHelperProcess is not a real test: it is the model child process used by
// the command backend tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DMSP_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)
	if os.Getenv("DMSP_HELPER_FAIL") == "1" {
		fmt.Println(`{"ready":false,"error":"cannot open model/model_2_1D.h5"}`)
		return
	}
	fmt.Printf("{\"ready\":true,\"input_length\":%s}\n", os.Getenv("DMSP_HELPER_WIDTH"))
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1<<20), 1<<26)
	for sc.Scan() {
		var req struct {
			Instances [][]int32 `json:"instances"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			fmt.Printf("{\"error\":%q}\n", err.Error())
			continue
		}
		preds := make([]float64, len(req.Instances))
		for i, in := range req.Instances {
			preds[i] = float64(in[0]) / 100
		}
		b, _ := json.Marshal(map[string]any{"predictions": preds})
		fmt.Println(string(b))
	}
}

func helperConfig(t *testing.T, env ...string) Config {
	t.Helper()
	for _, kv := range append([]string{"DMSP_HELPER_PROCESS=1"}, env...) {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}
	return Config{
		Backend:     BackendCommand,
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess"},
		MaxBatch:    2,
		InputLength: 81,
	}
}

func TestCommandBackend(t *testing.T) {
	cfg := helperConfig(t, "DMSP_HELPER_WIDTH=81")
	c, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := c.Predict(context.Background(), encodeAll(t, "V", "A", "K"))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(got) != 3 || got[0] != 0.22 || got[1] != 0.01 || got[2] != 0.12 {
		t.Fatalf("unexpected probabilities %v", got)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCommandBackendLoadFailures(t *testing.T) {
	if _, err := Load(context.Background(), helperConfig(t, "DMSP_HELPER_FAIL=1")); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for a child that is not ready, got %v", err)
	}
	if _, err := Load(context.Background(), helperConfig(t, "DMSP_HELPER_WIDTH=50", "DMSP_HELPER_FAIL=0")); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for width mismatch, got %v", err)
	}
}
