package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dmsp/internal/peptide"
)

// httpClient performs requests; tests may replace it with a mock transport.
var httpClient = &http.Client{Timeout: 2 * time.Minute}

// TFServing talks to a TensorFlow Serving REST endpoint.
type TFServing struct {
	base        string
	timeout     time.Duration
	maxBatch    int
	outputIndex int
}

type versionStatus struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Status  struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

type statusResponse struct {
	ModelVersionStatus []versionStatus `json:"model_version_status"`
}

type tensorInfo struct {
	TensorShape struct {
		Dim []struct {
			Size string `json:"size"`
		} `json:"dim"`
	} `json:"tensor_shape"`
}

type metadataResponse struct {
	Metadata struct {
		SignatureDef struct {
			SignatureDef map[string]struct {
				Inputs map[string]tensorInfo `json:"inputs"`
			} `json:"signature_def"`
		} `json:"signature_def"`
	} `json:"metadata"`
}

// modelBase builds the model resource URL, e.g.
// http://host:8501/v1/models/detectability/versions/2
func modelBase(cfg Config) string {
	base := strings.TrimRight(cfg.URL, "/") + "/v1/models/" + cfg.Name
	if cfg.Version != "" {
		base += "/versions/" + cfg.Version
	}
	return base
}

func loadTFServing(ctx context.Context, cfg Config) (*TFServing, error) {
	if cfg.URL == "" || cfg.Name == "" {
		return nil, fmt.Errorf("tfserving backend needs url and name")
	}
	t := &TFServing{base: modelBase(cfg), timeout: cfg.Timeout, maxBatch: cfg.MaxBatch, outputIndex: cfg.OutputIndex}

	body, code, err := t.get(ctx, t.base)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("model status returned %d: %s", code, strings.TrimSpace(string(body)))
	}
	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to parse model status: %v (body: %s)", err, string(body))
	}
	available := false
	var reasons []string
	for _, v := range st.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			available = true
			break
		}
		reasons = append(reasons, fmt.Sprintf("version %s %s %s", v.Version, v.State, v.Status.ErrorMessage))
	}
	if !available {
		return nil, fmt.Errorf("no available model version for %s: %s", cfg.Name, strings.Join(reasons, "; "))
	}

	// Older servers have no metadata endpoint; only a reported width is checked.
	body, code, err = t.get(ctx, t.base+"/metadata")
	if err != nil {
		return nil, err
	}
	if code == http.StatusOK && cfg.InputLength > 0 {
		if w, ok := inputWidth(body); ok && w != cfg.InputLength {
			return nil, fmt.Errorf("model expects vectors of width %d, encoder produces %d", w, cfg.InputLength)
		}
	}
	return t, nil
}

// inputWidth extracts the second dimension of the single input tensor of the
// serving signature.
func inputWidth(body []byte) (int, bool) {
	var md metadataResponse
	if err := json.Unmarshal(body, &md); err != nil {
		return 0, false
	}
	sig, ok := md.Metadata.SignatureDef.SignatureDef["serving_default"]
	if !ok || len(sig.Inputs) != 1 {
		return 0, false
	}
	for _, in := range sig.Inputs {
		dims := in.TensorShape.Dim
		if len(dims) != 2 {
			return 0, false
		}
		w, err := strconv.Atoi(dims[1].Size)
		if err != nil || w <= 0 {
			return 0, false
		}
		return w, true
	}
	return 0, false
}

func (t *TFServing) get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (t *TFServing) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return context.WithCancel(ctx)
}

// Predict sends the batch in requests of at most maxBatch instances, one
// after the other, and concatenates the answers in order.
func (t *TFServing) Predict(ctx context.Context, batch []peptide.Vector) ([]float64, error) {
	out := make([]float64, 0, len(batch))
	for _, part := range splitBatch(batch, t.maxBatch) {
		probs, err := t.predict(ctx, part)
		if err != nil {
			return nil, err
		}
		out = append(out, probs...)
	}
	return out, nil
}

func (t *TFServing) predict(ctx context.Context, part []peptide.Vector) ([]float64, error) {
	payload, err := json.Marshal(predictRequest{Instances: part})
	if err != nil {
		return nil, err
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", t.base+":predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tfserving predict failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse tfserving response: %v", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("tfserving predict failed: %s", out.Error)
	}
	probs, err := decodePredictions(out.Predictions, t.outputIndex)
	if err != nil {
		return nil, err
	}
	if err := Validate(len(part), probs); err != nil {
		return nil, err
	}
	return probs, nil
}

// Close is a no-op; the server owns the model.
func (t *TFServing) Close() error { return nil }
