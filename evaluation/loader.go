package evaluation

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EstimatorBundle is the on-disk form of a fitted estimator. Exactly one
// of the estimator fields is set, matching Kind.
type EstimatorBundle struct {
	SchemaVersion int
	Kind          ModelKind
	Linear        *LinearModel
	Logistic      *LogisticModel
	Forest        *ForestModel
}

// predictor returns the estimator the bundle carries
func (b *EstimatorBundle) predictor() Predictor {
	switch b.Kind {
	case KindLinearRegression:
		if b.Linear != nil {
			return b.Linear
		}
	case KindLogisticRegression:
		if b.Logistic != nil {
			return b.Logistic
		}
	case KindRandomForestClassifier, KindRandomForestRegressor:
		if b.Forest != nil {
			return b.Forest
		}
	}
	return nil
}

// validate rejects bundles that decoded structurally but carry no usable
// estimator. Decoders from other generations can produce such shells.
func (b *EstimatorBundle) validate() error {
	switch b.Kind {
	case KindLinearRegression:
		if b.Linear == nil || len(b.Linear.Coef) == 0 {
			return fmt.Errorf("bundle has no linear estimator payload")
		}
	case KindLogisticRegression:
		if b.Logistic == nil || len(b.Logistic.Coef) == 0 {
			return fmt.Errorf("bundle has no logistic estimator payload")
		}
	case KindRandomForestClassifier, KindRandomForestRegressor:
		if b.Forest == nil || len(b.Forest.Estimators) == 0 {
			return fmt.Errorf("bundle has no forest estimator payload")
		}
	case "":
		return fmt.Errorf("bundle has no estimator kind")
	default:
		return fmt.Errorf("unknown estimator kind %q", b.Kind)
	}
	return nil
}

// DetectFramework infers the framework from the artifact extension.
// An explicitly declared framework always takes precedence over this.
func DetectFramework(path string) Framework {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl", ".pickle", ".joblib":
		return FrameworkSKLearn
	case ".pt", ".pth":
		return FrameworkPyTorch
	case ".h5", ".keras":
		return FrameworkKeras
	case ".onnx":
		return FrameworkONNX
	}
	return ""
}

// LoadModel deserializes a model artifact. When framework is empty it is
// detected from the file extension. All deserialization failures come
// back as a *LoadError listing every strategy that was tried.
func (e *Engine) LoadModel(path string, framework Framework) (*LoadedModel, error) {
	if framework == "" {
		framework = DetectFramework(path)
	}
	if framework == "" {
		return nil, &LoadError{Path: path, Framework: framework, Attempts: []LoadAttempt{
			{Strategy: "framework-detection", Err: fmt.Errorf("unrecognized artifact extension %q", filepath.Ext(path))},
		}}
	}

	switch framework {
	case FrameworkSKLearn:
		return loadEstimatorBundle(path)
	case FrameworkPyTorch:
		return loadCheckpoint(path)
	case FrameworkKeras, FrameworkTensorFlow:
		return loadLayerBundle(path, framework)
	case FrameworkONNX:
		return loadGraphModel(path)
	}
	return nil, &LoadError{Path: path, Framework: framework, Attempts: []LoadAttempt{
		{Strategy: "framework-detection", Err: fmt.Errorf("unrecognized framework %q", framework)},
	}}
}

// loadEstimatorBundle walks the strategy chain for estimator bundles.
// Three older exporter generations remain in circulation, so a failed
// decode falls through: current gob, then the JSON generation, then the
// base64-armored generation, then gob under the legacy schema names.
// Every failure is kept so the error names each strategy tried.
func loadEstimatorBundle(path string) (*LoadedModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Framework: FrameworkSKLearn, Attempts: []LoadAttempt{
			{Strategy: "read", Err: err},
		}}
	}

	strategies := []struct {
		name   string
		decode func([]byte) (*EstimatorBundle, error)
	}{
		{"gob", decodeBundleGob},
		{"legacy-json", decodeBundleJSON},
		{"base64-gob", decodeBundleBase64},
		{"legacy-schema", decodeBundleLegacySchema},
	}

	var attempts []LoadAttempt
	for _, s := range strategies {
		bundle, err := s.decode(raw)
		if err == nil {
			err = bundle.validate()
		}
		if err != nil {
			attempts = append(attempts, LoadAttempt{Strategy: s.name, Err: err})
			continue
		}
		return &LoadedModel{
			Predictor: bundle.predictor(),
			Framework: FrameworkSKLearn,
			Kind:      bundle.Kind,
			Path:      path,
		}, nil
	}
	return nil, &LoadError{Path: path, Framework: FrameworkSKLearn, Attempts: attempts}
}

func decodeBundleGob(raw []byte) (*EstimatorBundle, error) {
	var b EstimatorBundle
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// jsonBundle is the first exporter generation, which wrote snake_case JSON
type jsonBundle struct {
	SchemaVersion int            `json:"schema_version"`
	Kind          ModelKind      `json:"kind"`
	Linear        *LinearModel   `json:"linear,omitempty"`
	Logistic      *LogisticModel `json:"logistic,omitempty"`
	Forest        *ForestModel   `json:"forest,omitempty"`
}

func decodeBundleJSON(raw []byte) (*EstimatorBundle, error) {
	var jb jsonBundle
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jb); err != nil {
		return nil, err
	}
	return &EstimatorBundle{
		SchemaVersion: jb.SchemaVersion,
		Kind:          jb.Kind,
		Linear:        jb.Linear,
		Logistic:      jb.Logistic,
		Forest:        jb.Forest,
	}, nil
}

func decodeBundleBase64(raw []byte) (*EstimatorBundle, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	return decodeBundleGob(decoded)
}

// legacyEstimatorBundle mirrors the field names the pre-rename exporter
// encoded. Gob matches fields by name, so current streams decode into it
// as empty shells and old streams decode here and nowhere else.
type legacyEstimatorBundle struct {
	Version   int
	ModelType ModelKind
	Weights   []float64
	Offset    float64
	Logit     *LogisticModel
	Ensemble  *ForestModel
}

func decodeBundleLegacySchema(raw []byte) (*EstimatorBundle, error) {
	var lb legacyEstimatorBundle
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&lb); err != nil {
		return nil, err
	}
	b := &EstimatorBundle{SchemaVersion: lb.Version, Kind: lb.ModelType}
	switch lb.ModelType {
	case KindLinearRegression:
		b.Linear = &LinearModel{Coef: lb.Weights, Intercept: lb.Offset}
	case KindLogisticRegression:
		b.Logistic = lb.Logit
	case KindRandomForestClassifier, KindRandomForestRegressor:
		b.Forest = lb.Ensemble
	}
	return b, nil
}

// SaveEstimatorBundle writes a bundle in the current gob encoding
func SaveEstimatorBundle(path string, b *EstimatorBundle) error {
	if err := b.validate(); err != nil {
		return fmt.Errorf("refusing to save invalid bundle: %v", err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return fmt.Errorf("failed to encode bundle: %v", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Checkpoint container layout:
//
//	magic "EVCP" | version u8 | flags u8 | header length u32 LE |
//	JSON header | per-layer float64 LE weights then biases |
//	optional gob metadata trailer (flag bit 0)
const (
	checkpointMagic        = "EVCP"
	checkpointVersion      = 2
	checkpointFlagMetadata = 0x01
)

type checkpointHeader struct {
	Arch    checkpointArch `json:"arch"`
	Device  string         `json:"device,omitempty"`
	SavedBy string         `json:"saved_by,omitempty"`
}

type checkpointArch struct {
	Layers  []checkpointLayer `json:"layers"`
	Classes []float64         `json:"classes,omitempty"`
}

type checkpointLayer struct {
	In         int        `json:"in"`
	Out        int        `json:"out"`
	Activation Activation `json:"activation"`
	Dropout    float64    `json:"dropout,omitempty"`
}

// loadCheckpoint restores a checkpoint as a *LoadedModel. Checkpoints
// written by older exporters carry a free-form metadata trailer that the
// restricted reader rejects, so loading opts in to it here.
func loadCheckpoint(path string) (*LoadedModel, error) {
	mlp, _, err := ReadCheckpoint(path, true)
	if err != nil {
		return nil, &LoadError{Path: path, Framework: FrameworkPyTorch, Attempts: []LoadAttempt{
			{Strategy: "checkpoint", Err: err},
		}}
	}
	return &LoadedModel{Predictor: mlp, Framework: FrameworkPyTorch, Kind: KindMLP, Path: path}, nil
}

// ReadCheckpoint reads a checkpoint file. Regardless of the device the
// exporter saved from, weights are restored into host memory. With
// allowLegacyMeta false, files carrying the legacy metadata trailer are
// rejected instead of silently decoding arbitrary gob.
func ReadCheckpoint(path string, allowLegacyMeta bool) (*MLPModel, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoint magic: %v", err)
	}
	if string(magic) != checkpointMagic {
		return nil, nil, fmt.Errorf("not a checkpoint file (magic %q)", magic)
	}

	var version, flags uint8
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoint version: %v", err)
	}
	if version == 0 || version > checkpointVersion {
		return nil, nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}
	if err := binary.Read(f, binary.LittleEndian, &flags); err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoint flags: %v", err)
	}
	if flags&checkpointFlagMetadata != 0 && !allowLegacyMeta {
		return nil, nil, fmt.Errorf("checkpoint carries a legacy metadata trailer; loading it requires opting in")
	}

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("failed to read header length: %v", err)
	}
	headerRaw := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerRaw); err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoint header: %v", err)
	}
	var header checkpointHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse checkpoint header: %v", err)
	}
	if len(header.Arch.Layers) == 0 {
		return nil, nil, fmt.Errorf("checkpoint describes no layers")
	}

	mlp := &MLPModel{Classes: header.Arch.Classes}
	for li, spec := range header.Arch.Layers {
		if spec.In <= 0 || spec.Out <= 0 {
			return nil, nil, fmt.Errorf("layer %d has invalid shape %dx%d", li, spec.Out, spec.In)
		}
		layer := DenseLayer{
			Bias:       make([]float64, spec.Out),
			Activation: spec.Activation,
			Dropout:    spec.Dropout,
		}
		layer.Weights = make([][]float64, spec.Out)
		for o := 0; o < spec.Out; o++ {
			layer.Weights[o] = make([]float64, spec.In)
			if err := binary.Read(f, binary.LittleEndian, layer.Weights[o]); err != nil {
				return nil, nil, fmt.Errorf("failed to read layer %d weights: %v", li, err)
			}
		}
		if err := binary.Read(f, binary.LittleEndian, layer.Bias); err != nil {
			return nil, nil, fmt.Errorf("failed to read layer %d bias: %v", li, err)
		}
		mlp.Layers = append(mlp.Layers, layer)
	}

	var meta map[string]string
	if flags&checkpointFlagMetadata != 0 {
		if err := gob.NewDecoder(f).Decode(&meta); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata trailer: %v", err)
		}
	}
	return mlp, meta, nil
}

// SaveCheckpoint writes a checkpoint in the current container layout.
// A non-nil meta map produces the legacy metadata trailer.
func SaveCheckpoint(path string, m *MLPModel, meta map[string]string) error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("refusing to save network with no layers")
	}
	header := checkpointHeader{Device: "cpu"}
	header.Arch.Classes = m.Classes
	for li, layer := range m.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights[0]) == 0 {
			return fmt.Errorf("layer %d has empty weights", li)
		}
		header.Arch.Layers = append(header.Arch.Layers, checkpointLayer{
			In:         len(layer.Weights[0]),
			Out:        len(layer.Weights),
			Activation: layer.Activation,
			Dropout:    layer.Dropout,
		})
	}
	headerRaw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint header: %v", err)
	}

	var buf bytes.Buffer
	buf.WriteString(checkpointMagic)
	flags := uint8(0)
	if meta != nil {
		flags |= checkpointFlagMetadata
	}
	buf.WriteByte(checkpointVersion)
	buf.WriteByte(flags)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(headerRaw))); err != nil {
		return err
	}
	buf.Write(headerRaw)
	for _, layer := range m.Layers {
		for _, row := range layer.Weights {
			if err := binary.Write(&buf, binary.LittleEndian, row); err != nil {
				return err
			}
		}
		if err := binary.Write(&buf, binary.LittleEndian, layer.Bias); err != nil {
			return err
		}
	}
	if meta != nil {
		if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("failed to encode metadata trailer: %v", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// layerBundle is the JSON layer-bundle format: model config plus weight
// arrays, kernels stored input-major the way the exporter lays them out
type layerBundle struct {
	Format  string            `json:"format"`
	Version int               `json:"version"`
	Config  layerBundleConfig `json:"config"`
	Weights []layerWeights    `json:"weights"`
}

type layerBundleConfig struct {
	Layers  []layerSpec `json:"layers"`
	Classes []float64   `json:"classes,omitempty"`
}

type layerSpec struct {
	Units      int        `json:"units"`
	InputDim   int        `json:"input_dim"`
	Activation Activation `json:"activation"`
	Dropout    float64    `json:"dropout,omitempty"`
}

type layerWeights struct {
	Kernel [][]float64 `json:"kernel"`
	Bias   []float64   `json:"bias"`
}

const layerBundleFormat = "evalmodel-layers"

func loadLayerBundle(path string, framework Framework) (*LoadedModel, error) {
	mlp, err := readLayerBundle(path)
	if err != nil {
		return nil, &LoadError{Path: path, Framework: framework, Attempts: []LoadAttempt{
			{Strategy: "layer-bundle", Err: err},
		}}
	}
	return &LoadedModel{Predictor: mlp, Framework: framework, Kind: KindMLP, Path: path}, nil
}

func readLayerBundle(path string) (*MLPModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lb layerBundle
	if err := json.Unmarshal(raw, &lb); err != nil {
		return nil, fmt.Errorf("failed to parse layer bundle: %v", err)
	}
	if lb.Format != layerBundleFormat {
		return nil, fmt.Errorf("not a layer bundle (format %q)", lb.Format)
	}
	if len(lb.Config.Layers) == 0 {
		return nil, fmt.Errorf("layer bundle describes no layers")
	}
	if len(lb.Weights) != len(lb.Config.Layers) {
		return nil, fmt.Errorf("layer bundle has %d weight sets for %d layers", len(lb.Weights), len(lb.Config.Layers))
	}

	mlp := &MLPModel{Classes: lb.Config.Classes}
	for li, spec := range lb.Config.Layers {
		w := lb.Weights[li]
		if len(w.Kernel) == 0 {
			return nil, fmt.Errorf("layer %d has an empty kernel", li)
		}
		inDim := len(w.Kernel)
		outDim := len(w.Kernel[0])
		if spec.Units != 0 && spec.Units != outDim {
			return nil, fmt.Errorf("layer %d kernel is %dx%d but config declares %d units", li, inDim, outDim, spec.Units)
		}
		// Kernels are input-major; transpose to row-major weights
		layer := DenseLayer{
			Bias:       w.Bias,
			Activation: spec.Activation,
			Dropout:    spec.Dropout,
		}
		layer.Weights = make([][]float64, outDim)
		for o := 0; o < outDim; o++ {
			layer.Weights[o] = make([]float64, inDim)
			for i := 0; i < inDim; i++ {
				if len(w.Kernel[i]) != outDim {
					return nil, fmt.Errorf("layer %d kernel is ragged", li)
				}
				layer.Weights[o][i] = w.Kernel[i][o]
			}
		}
		mlp.Layers = append(mlp.Layers, layer)
	}
	return mlp, nil
}

// SaveLayerBundle writes a network in the layer-bundle format
func SaveLayerBundle(path string, m *MLPModel) error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("refusing to save network with no layers")
	}
	lb := layerBundle{Format: layerBundleFormat, Version: 2}
	lb.Config.Classes = m.Classes
	for _, layer := range m.Layers {
		outDim := len(layer.Weights)
		if outDim == 0 {
			return fmt.Errorf("network has an empty layer")
		}
		inDim := len(layer.Weights[0])
		lb.Config.Layers = append(lb.Config.Layers, layerSpec{
			Units:      outDim,
			InputDim:   inDim,
			Activation: layer.Activation,
			Dropout:    layer.Dropout,
		})
		w := layerWeights{Bias: layer.Bias, Kernel: make([][]float64, inDim)}
		for i := 0; i < inDim; i++ {
			w.Kernel[i] = make([]float64, outDim)
			for o := 0; o < outDim; o++ {
				w.Kernel[i][o] = layer.Weights[o][i]
			}
		}
		lb.Weights = append(lb.Weights, w)
	}
	raw, err := json.MarshalIndent(lb, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layer bundle: %v", err)
	}
	return os.WriteFile(path, raw, 0644)
}
