// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package musicvae

import (
	"encoding/json"

	"github.com/izambard/magenta-js/pkg/converters"
	"github.com/pkg/errors"
)

// ModelType is the only model type accepted in Config.
const ModelType = "MusicVAE"

// Config is the sidecar configuration (checkpoints.ConfigFileName) stored along the checkpoint weights.
type Config struct {
	Type          string          `json:"type"`
	DataConverter converters.Spec `json:"dataConverter"`
}

// ParseConfig parses and validates the sidecar configuration.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to parse model configuration: %v", err)
	}
	if config.Type != ModelType {
		return nil, errors.Wrapf(ErrConfig, "model configuration is of type %q, expected %q", config.Type, ModelType)
	}
	return &config, nil
}
