package engine

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/croessner/ratebench/server/errors"
	"github.com/croessner/ratebench/server/model"
	jsoniter "github.com/json-iterator/go"
)

//go:embed evalscript/default.js
var defaultEvalscript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PayloadBuilder renders the request descriptor. Only the bbox changes between calls.
type PayloadBuilder struct {
	cfg        PayloadConfig
	evalscript string
	rnd        func() float64
}

// NewPayloadBuilder loads the evalscript (file or built-in) and checks the bbox.
func NewPayloadBuilder(cfg *Config) (*PayloadBuilder, error) {
	if len(cfg.Payload.BBox) != 4 {
		return nil, errors.ErrInvalidBBox
	}

	script := defaultEvalscript

	if cfg.Payload.EvalscriptFile != "" {
		raw, err := os.ReadFile(cfg.Payload.EvalscriptFile)
		if err != nil {
			return nil, fmt.Errorf("read evalscript: %w", err)
		}

		script = string(raw)
	}

	if strings.TrimSpace(script) == "" {
		return nil, errors.ErrEvalscriptEmpty
	}

	return &PayloadBuilder{cfg: cfg.Payload, evalscript: script, rnd: rand.Float64}, nil
}

// Build returns a fresh descriptor with every bbox coordinate shifted by [0, jitter).
func (b *PayloadBuilder) Build() *model.ProcessRequest {
	var bbox [4]float64

	for i := range bbox {
		bbox[i] = b.cfg.BBox[i] + b.cfg.Jitter*b.rnd()
	}

	return &model.ProcessRequest{
		Input: model.Input{
			Bounds: model.Bounds{
				Properties: model.BoundsProperties{CRS: b.cfg.CRS},
				BBox:       bbox,
			},
			Data: []model.DataSource{
				{
					DataFilter: model.DataFilter{
						TimeRange: model.TimeRange{
							From: b.cfg.TimeFrom,
							To:   b.cfg.TimeTo,
						},
						MosaickingOrder:  b.cfg.MosaickingOrder,
						PreviewMode:      b.cfg.PreviewMode,
						MaxCloudCoverage: b.cfg.MaxCloudCoverage,
					},
					Processing: model.Processing{
						Upsampling:   b.cfg.Upsampling,
						Downsampling: b.cfg.Downsampling,
					},
					Type: b.cfg.DataType,
				},
			},
		},
		Output: model.Output{
			Width:  b.cfg.Width,
			Height: b.cfg.Height,
			Responses: []model.OutputResponse{
				{
					Identifier: b.cfg.Identifier,
					Format:     model.Format{Type: b.cfg.Format},
				},
			},
		},
		Evalscript: b.evalscript,
	}
}

// Body builds a descriptor and marshals it.
func (b *PayloadBuilder) Body() ([]byte, error) {
	return json.Marshal(b.Build())
}

// Evalscript returns the script sent with every request.
func (b *PayloadBuilder) Evalscript() string {
	return b.evalscript
}
